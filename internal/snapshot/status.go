package snapshot

// Status is the lifecycle status of a transfer as seen by a snapshot.
type Status string

const (
	StatusAllocatingDiskspace Status = "allocating_diskspace"
	StatusWaitingForHashcheck Status = "waiting_for_hashcheck"
	StatusHashchecking        Status = "hashchecking"
	StatusDownloading         Status = "downloading"
	StatusSeeding             Status = "seeding"
	StatusStopped             Status = "stopped"
	StatusStoppedOnError      Status = "stopped_on_error"
	StatusQueued              Status = "queued"
	StatusRepexing            Status = "repexing"
)

// statusNone marks "no explicit status supplied" in the constructor. Only
// StatusDownloading, StatusSeeding and StatusStoppedOnError are ever derived
// by New itself; the remaining values arrive as caller overrides.
const statusNone Status = ""

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusAllocatingDiskspace, StatusWaitingForHashcheck, StatusHashchecking,
		StatusDownloading, StatusSeeding, StatusStopped, StatusStoppedOnError,
		StatusQueued, StatusRepexing:
		return true
	}
	return false
}
