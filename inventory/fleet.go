package inventory

import (
	"fmt"

	"github.com/c360/sensorsim/sensor"
)

// SensorsPerCategory is the number of sensors DefaultFleet creates per category.
const SensorsPerCategory = 4

// walletAddresses are assigned to the default fleet in order.
var walletAddresses = []string{
	"0xb59ab3f970befdd1e1b009376083fb69c339d5ba",
	"0x16f870c925fe2399786d318b627e9c159e13fd38",
	"0x5e5ba4ae271de64e839421701ec4420d32ccaf0d",
	"0xfa48f36ba6cc563eef20eca4edbfc92d29b521cb",
	"0xad04b6f85210f7bac634972e32fa0e99c487b1f0",
	"0xc6b43723dc57e444ee3144e5db34453ba4b7fe58",
	"0xd65bb6b3b2b492feaf6d176721b5950b39b2ef5d",
	"0xced537ef904039c5f1218069b10992d5727b4042",
	"0xdee8acea1e0475cba90300dabdbf9393dd200ab6",
	"0xbadc41713a33e692c3a8f0688184d42c314ae20f",
	"0x6ffb0279e0c65990ee1af6ceba6903296fa960a7",
	"0x9108f1907295aec304fe9d23b4f022be9e509928",
	"0xbd213a69d31f225bf20442782634ed74f4655b7a",
	"0x8c2683e6a9de0b84ca9aee43c6a0f8fa40c99113",
	"0x16acba43ff56d02e2c583a6803d21045068677de",
	"0xdb54b838fe344527af40791bbdbea02cce1e0978",
}

// DefaultFleet returns the stock fleet: four sensors per category named
// temp#1 .. wind#4, each with its own wallet address.
func DefaultFleet() []Registration {
	categories := sensor.Categories()
	fleet := make([]Registration, 0, len(categories)*SensorsPerCategory)
	for _, c := range categories {
		for i := 0; i < SensorsPerCategory; i++ {
			fleet = append(fleet, Registration{
				Name:          fmt.Sprintf("%s#%d", c.ShortName(), i+1),
				Category:      string(c),
				WalletAddress: walletAddresses[len(fleet)%len(walletAddresses)],
			})
		}
	}
	return fleet
}
