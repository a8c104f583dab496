package cloud

import (
	"context"

	"github.com/tuyable/credential-cache/pkg/account"
)

//go:generate mockgen -destination=../../mocks/directory.go -package=mocks -mock_names=Directory=CloudDirectory . Directory

// Directory is the remote account and device directory. [account.Client] implements it.
//
// Implementations are called without any cache lock held and may block for as long as ctx allows.
type Directory interface {
	Login(ctx context.Context, login account.Login) (*account.Session, error)
	ListDevices(ctx context.Context, session *account.Session) ([]account.Device, error)
	FactoryInfo(ctx context.Context, session *account.Session, deviceID string) (*account.FactoryInfo, error)
	Specification(ctx context.Context, session *account.Session, deviceID string) (*account.Specification, error)
}
