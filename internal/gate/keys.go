package gate

import "strconv"

const (
	waitingPrefix = "queue:wait:"
	passZPrefix   = "queue:pass:z:"
	passPrefix    = "queue:pass:"
	seqPrefix     = "queue:pass:seq:"

	// AdvanceLockKey elects the single instance that runs the advancer tick.
	AdvanceLockKey = "queue:advance:lock"
)

func sid(scheduleID uint64) string { return strconv.FormatUint(scheduleID, 10) }

// WaitingKey is the FIFO waiting line, scored by first-seen millis.
func WaitingKey(scheduleID uint64) string { return waitingPrefix + sid(scheduleID) }

// PassSetKey tracks pass holders scored by absolute expiry millis.
func PassSetKey(scheduleID uint64) string { return passZPrefix + sid(scheduleID) }

// TokenKeyPrefix prefixes the per-user token keys of a schedule.
func TokenKeyPrefix(scheduleID uint64) string { return passPrefix + sid(scheduleID) + ":" }

func TokenKey(scheduleID, userID uint64) string {
	return TokenKeyPrefix(scheduleID) + strconv.FormatUint(userID, 10)
}

func SeqKey(scheduleID uint64) string { return seqPrefix + sid(scheduleID) }

// scheduleFromWaitingKey parses queue:wait:{id}.
func scheduleFromWaitingKey(key string) (uint64, bool) {
	if len(key) <= len(waitingPrefix) || key[:len(waitingPrefix)] != waitingPrefix {
		return 0, false
	}
	id, err := strconv.ParseUint(key[len(waitingPrefix):], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
