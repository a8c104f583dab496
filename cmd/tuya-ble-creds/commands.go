package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tuyable/credential-cache/pkg/cli"
	"github.com/tuyable/credential-cache/pkg/credentials"
	"github.com/tuyable/credential-cache/pkg/discovery"
	"github.com/tuyable/credential-cache/pkg/discovery/ble"
	"github.com/tuyable/credential-cache/pkg/proxy"
)

const defaultScanDuration = 10 * time.Second

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrUnknownAccount  = errors.New("no saved account with that username")
	ErrUnknownCode     = errors.New("device has no datapoint with that code")
)

type Argument struct {
	name string
	help string
}

// environment is shared by the commands of one session.
type environment struct {
	config *cli.Config
	out    io.Writer
}

type Handler func(ctx context.Context, env *environment, args map[string]string) error

type Command struct {
	help            string
	requiresAccount bool // True if command needs -country, -access-id and -username
	requiresBLE     bool // True if command uses the Bluetooth adapter
	args            []Argument
	optional        []Argument
	handler         Handler
}

// configureFlags verifies that c contains all the information required to execute a command.
func configureFlags(c *cli.Config, commandName string) error {
	info, ok := commands[commandName]
	if !ok {
		return ErrUnknownCommand
	}
	c.Flags = cli.FlagStore | cli.FlagKeyring
	if info.requiresAccount {
		c.Flags |= cli.FlagAccount
		if c.Country == "" || c.AccessID == "" || c.Username == "" {
			return cli.ErrNoAccount
		}
	}
	if info.requiresBLE {
		c.Flags |= cli.FlagBLE
	}
	return nil
}

func execute(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, env, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

// optionalBool parses an optional argument. The argument's own name is accepted as true, so
// "resolve ADDRESS force" works.
func optionalBool(args map[string]string, name string) (bool, error) {
	value, ok := args[name]
	if !ok {
		return false, nil
	}
	if strings.EqualFold(value, name) {
		return true, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", ErrCommandLineArgs, name)
	}
	return b, nil
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func parseAddress(args map[string]string) (string, error) {
	raw, err := credentials.AddressBytes(args["ADDRESS"])
	if err != nil {
		return "", err
	}
	return credentials.NormalizeAddress(raw)
}

func resolveDevice(ctx context.Context, env *environment, args map[string]string) error {
	address, err := parseAddress(args)
	if err != nil {
		return err
	}
	force, err := optionalBool(args, "force")
	if err != nil {
		return err
	}
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	c, err := manager.DeviceCredentials(ctx, address, force, true)
	if err != nil {
		return err
	}
	return printJSON(env.out, &proxy.CredentialResponse{
		Address:     address,
		Name:        c.ReadableName(address),
		Credentials: c,
	})
}

func showDatapoint(ctx context.Context, env *environment, args map[string]string) error {
	address, err := parseAddress(args)
	if err != nil {
		return err
	}
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	c, err := manager.DeviceCredentials(ctx, address, false, false)
	if err != nil {
		return err
	}

	code := args["CODE"]
	var kind, dataType string
	var values *structpb.Struct
	if f, ok := c.FindFunction(code); ok {
		kind, dataType = "function", f.Type
		values, err = f.Range()
	} else if s, ok := c.FindStatus(code); ok {
		kind, dataType = "status", s.Type
		values, err = s.Range()
	} else {
		return fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	if err != nil {
		return err
	}
	rendered, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(values)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%s %s (%s)\n%s\n", kind, code, dataType, rendered)
	return nil
}

func buildCache(ctx context.Context, env *environment, _ map[string]string) error {
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	report, err := manager.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, report)
	return nil
}

func dumpCache(_ context.Context, env *environment, _ map[string]string) error {
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	return manager.Resolver().Sessions().Export(env.out)
}

func login(ctx context.Context, env *environment, args map[string]string) error {
	input, err := env.config.LoginInput()
	if err != nil {
		return err
	}
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	l, err := manager.Resolver().TryLogin(ctx, input)
	if err != nil {
		return err
	}
	if err := env.config.SaveAccount(l, args["KEYRING_NAME"]); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Saved account %s\n", l.Label())
	return nil
}

func listAccounts(_ context.Context, env *environment, _ map[string]string) error {
	if env.config.File != nil {
		for _, a := range env.config.File.Accounts {
			fmt.Fprintf(env.out, "%s (configuration file)\n", a.Login.Label())
		}
	}
	s, err := env.config.OpenStore()
	if err != nil {
		return err
	}
	saved, err := s.Accounts()
	if err != nil {
		return err
	}
	for _, local := range saved {
		fmt.Fprintf(env.out, "%s\n", local.Login.Label())
	}
	return nil
}

func removeAccount(_ context.Context, env *environment, args map[string]string) error {
	s, err := env.config.OpenStore()
	if err != nil {
		return err
	}
	saved, err := s.Accounts()
	if err != nil {
		return err
	}
	removed := 0
	for _, local := range saved {
		if local.Login.Username != args["USERNAME"] {
			continue
		}
		if err := s.DeleteAccount(local); err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Removed account %s\n", local.Login.Label())
		removed++
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, args["USERNAME"])
	}
	return nil
}

func listDevices(_ context.Context, env *environment, _ map[string]string) error {
	s, err := env.config.OpenStore()
	if err != nil {
		return err
	}
	devices, err := s.Devices()
	if err != nil {
		return err
	}
	for _, local := range devices {
		fmt.Fprintf(env.out, "%s  %-24s  %s\n", local.Address, local.Device.ReadableName(local.Address), local.Login.Label())
	}
	return nil
}

func forgetDevice(_ context.Context, env *environment, args map[string]string) error {
	s, err := env.config.OpenStore()
	if err != nil {
		return err
	}
	return s.DeleteDevice(args["ADDRESS"])
}

func scan(ctx context.Context, env *environment, args map[string]string) error {
	duration := defaultScanDuration
	if value, ok := args["DURATION"]; ok {
		var err error
		if duration, err = time.ParseDuration(value); err != nil || duration <= 0 {
			return fmt.Errorf("%w: invalid duration '%s'", ErrCommandLineArgs, value)
		}
	}
	manager, err := env.config.Manager()
	if err != nil {
		return err
	}
	scanner, err := ble.NewScanner(env.config.BtAdapterID)
	if err != nil {
		return err
	}
	defer scanner.Close()

	watcher := discovery.NewWatcher(manager)
	watcher.OnResult = func(r discovery.Result) {
		address := r.Advertisement.Address
		if r.Err != nil {
			fmt.Fprintf(env.out, "%s  %-24s  %s\n", address, r.Name, r.Err)
			return
		}
		fmt.Fprintf(env.out, "%s  %-24s  %s (%s)\n", address, r.Name, r.Credentials.DeviceID, r.Credentials.Category)
	}
	if err := watcher.Run(ctx, discovery.Limit(scanner, duration)); err != nil {
		return err
	}
	resolved := 0
	results := watcher.Results()
	for _, r := range results {
		if r.Err == nil {
			resolved++
		}
	}
	fmt.Fprintf(env.out, "Found %d devices, resolved %d\n", len(results), resolved)
	return nil
}

var commands = map[string]*Command{
	"resolve": &Command{
		help: "Resolve the credentials of the device with the given Bluetooth address",
		args: []Argument{
			Argument{name: "ADDRESS", help: "Bluetooth address, e.g. DC:23:4D:00:11:22"},
		},
		optional: []Argument{
			Argument{name: "force", help: "log in again even if the credentials are known (true or false)"},
		},
		handler: resolveDevice,
	},
	"datapoint": &Command{
		help: "Show the type and accepted values of one of a device's datapoints",
		args: []Argument{
			Argument{name: "ADDRESS", help: "Bluetooth address, e.g. DC:23:4D:00:11:22"},
			Argument{name: "CODE", help: "datapoint code, e.g. battery_percentage"},
		},
		handler: showDatapoint,
	},
	"build": &Command{
		help:    "Log in to every known account and cache the credentials of all their devices",
		handler: buildCache,
	},
	"dump": &Command{
		help:    "Print the session cache without secrets",
		handler: dumpCache,
	},
	"login": &Command{
		help:            "Add a cloud account. The access secret and password are read from the environment or prompted for",
		requiresAccount: true,
		optional: []Argument{
			Argument{name: "KEYRING_NAME", help: "save the account's secrets to the system keyring under this name"},
		},
		handler: login,
	},
	"accounts": &Command{
		help:    "List known accounts",
		handler: listAccounts,
	},
	"remove-account": &Command{
		help: "Remove a saved account",
		args: []Argument{
			Argument{name: "USERNAME", help: "account username"},
		},
		handler: removeAccount,
	},
	"devices": &Command{
		help:    "List devices in the credential store",
		handler: listDevices,
	},
	"forget": &Command{
		help: "Remove a device from the credential store",
		args: []Argument{
			Argument{name: "ADDRESS", help: "Bluetooth address"},
		},
		handler: forgetDevice,
	},
	"scan": &Command{
		help:        "Scan for Tuya BLE devices and resolve their credentials",
		requiresBLE: true,
		optional: []Argument{
			Argument{name: "DURATION", help: "how long to scan, e.g. 30s (default 10s)"},
		},
		handler: scan,
	},
}
