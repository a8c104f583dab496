package account

import "strings"

// Directory data centers.
const (
	EndpointAmerica       = "https://openapi.tuyaus.com"
	EndpointChina         = "https://openapi.tuyacn.com"
	EndpointEurope        = "https://openapi.tuyaeu.com"
	EndpointIndia         = "https://openapi.tuyain.com"
	EndpointEasternUS     = "https://openapi-ueaz.tuyaus.com"
	EndpointWesternEurope = "https://openapi-weaz.tuyaeu.com"
)

// Country maps an account's country to the telephone country code the directory expects and the
// data center that hosts the account.
type Country struct {
	Name        string
	CountryCode string
	Endpoint    string
}

// Countries lists the countries known to the login helpers, in display order.
var Countries = []Country{
	{"Argentina", "54", EndpointAmerica},
	{"Australia", "61", EndpointAmerica},
	{"Austria", "43", EndpointEurope},
	{"Belgium", "32", EndpointEurope},
	{"Brazil", "55", EndpointAmerica},
	{"Bulgaria", "359", EndpointEurope},
	{"Canada", "1", EndpointAmerica},
	{"Chile", "56", EndpointAmerica},
	{"China", "86", EndpointChina},
	{"Colombia", "57", EndpointAmerica},
	{"Croatia", "385", EndpointEurope},
	{"Czech Republic", "420", EndpointEurope},
	{"Denmark", "45", EndpointEurope},
	{"Estonia", "372", EndpointEurope},
	{"Finland", "358", EndpointEurope},
	{"France", "33", EndpointEurope},
	{"Germany", "49", EndpointEurope},
	{"Greece", "30", EndpointEurope},
	{"Hong Kong", "852", EndpointAmerica},
	{"Hungary", "36", EndpointEurope},
	{"India", "91", EndpointIndia},
	{"Indonesia", "62", EndpointAmerica},
	{"Ireland", "353", EndpointEurope},
	{"Israel", "972", EndpointEurope},
	{"Italy", "39", EndpointEurope},
	{"Japan", "81", EndpointAmerica},
	{"Latvia", "371", EndpointEurope},
	{"Lithuania", "370", EndpointEurope},
	{"Malaysia", "60", EndpointAmerica},
	{"Mexico", "52", EndpointAmerica},
	{"Netherlands", "31", EndpointEurope},
	{"New Zealand", "64", EndpointAmerica},
	{"Norway", "47", EndpointEurope},
	{"Peru", "51", EndpointAmerica},
	{"Philippines", "63", EndpointAmerica},
	{"Poland", "48", EndpointEurope},
	{"Portugal", "351", EndpointEurope},
	{"Romania", "40", EndpointEurope},
	{"Singapore", "65", EndpointAmerica},
	{"Slovakia", "421", EndpointEurope},
	{"Slovenia", "386", EndpointEurope},
	{"South Africa", "27", EndpointEurope},
	{"South Korea", "82", EndpointAmerica},
	{"Spain", "34", EndpointEurope},
	{"Sweden", "46", EndpointEurope},
	{"Switzerland", "41", EndpointEurope},
	{"Taiwan", "886", EndpointAmerica},
	{"Thailand", "66", EndpointAmerica},
	{"Turkey", "90", EndpointEurope},
	{"Ukraine", "380", EndpointEurope},
	{"United Arab Emirates", "971", EndpointEurope},
	{"United Kingdom", "44", EndpointEurope},
	{"United States", "1", EndpointAmerica},
	{"Vietnam", "84", EndpointAmerica},
}

// CountryByName returns the country with the given name. The comparison is case-insensitive.
func CountryByName(name string) (Country, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Countries {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Country{}, false
}
