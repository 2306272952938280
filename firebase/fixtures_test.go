package firebase

import "github.com/upb/tma-auth-gateway/initdata"

func identityFixture() *initdata.Identity {
	return &initdata.Identity{ExternalID: 42, FirstName: "Ann", LastName: "Lee", PhotoURL: "https://t.me/i/ann.jpg"}
}
