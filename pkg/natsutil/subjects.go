package natsutil

import "fmt"

// SubjectLogRecords is the default push-channel subject. It carries
// individual log records, one per message, in publish order.
const SubjectLogRecords = "console.logs.record"

// BuildInstanceLogSubject builds a per-instance record subject so multiple
// proxy instances can share one NATS server.
func BuildInstanceLogSubject(instance string) string {
	if instance == "" {
		return SubjectLogRecords
	}
	return fmt.Sprintf("%s.%s", SubjectLogRecords, instance)
}
