package postgres

import "github.com/upb/tma-auth-gateway/initdata"

func identityFixture() *initdata.Identity {
	return &initdata.Identity{ExternalID: 42, FirstName: "Ann", LastName: "Lee"}
}
