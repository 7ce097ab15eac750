package rendezvous

import "github.com/satori/go.uuid"

// These are fixed protocol constants, not derived per-identity — every
// paired phone and every managed machine advertise and scan for the same
// four UUIDs. Generated once with uuid.NewV4 and then pinned as literals,
// the way the teacher pins krsshCharUUIDString rather than regenerating it
// on every run.
var (
	serviceUUIDValue      = uuid.FromStringOrNil("7B2A9E9C-5C1E-4E51-9C9C-0B6B7E6E5E41")
	peerNameCharUUIDValue = uuid.FromStringOrNil("20F53E48-C08D-423A-B2C2-1C797889AF24")
	identityCharUUIDValue = uuid.FromStringOrNil("3AF5E4B0-5E0B-4A0E-9C58-6E1E7D2C0A31")
	psmCharUUIDValue      = uuid.FromStringOrNil("9D6A6B64-3F2B-4D9E-9C36-0E2F6C9B4E7A")
)
