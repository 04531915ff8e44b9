/*
Package types defines the domain model and capability-tagged Driver
contract shared by every component of the CloudPaste gateway.

# Architecture Overview

The gateway is a thin HTTP adapter over a core that never talks to a
back-end directly; it only talks to a types.Driver:

	┌─────────────────────────────────────────────┐
	│         HTTP adapter (internal/api)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     Resolver (internal/resolver)            │
	│     maps a virtual path → {Mount, Driver}   │
	└─────────────────────────────────────────────┘
	          │        │        │        │
	┌─────────┴───┐ ┌──┴───┐ ┌──┴────┐ ┌─┴───────┐
	│  S3 driver  │ │WebDAV│ │OneDrive│ │  ...    │
	└─────────────┘ └──────┘ └───────┘ └─────────┘

# Core types

StorageConfig, Mount, Principal, UploadSession, UploadPart, VfsNode, Task,
FsIndexEntry/State/Dirty, UsageSnapshot and ProxySignature mirror the data
model in spec §3 one-for-one; every field there has a corresponding struct
field here.

# Driver contract

Driver abstracts every back-end behind a single interface. A driver
declares a Capability bit set; the core refuses any call whose required
capability is absent with errors.ErrCodeNotSupported. Concrete drivers live
under internal/driver/<type>; the registry in internal/driver builds them
from DriverFactory functions keyed by StorageType.

# Thread safety

Every Driver implementation MUST be safe for concurrent use — the mount
manager shares one driver instance across all concurrent callers for a
given StorageConfig. Expensive authentication (provider token refresh) must
be single-flighted internally.
*/
package types
