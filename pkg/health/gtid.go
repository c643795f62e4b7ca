package health

import "github.com/mdbcdc/replicator/pkg/repl"

// GTIDDiff sums max(0, server[d] - consumer[d]) over every GTID domain
// present in consumer, giving a rough measure of replication lag in
// transaction counts. It returns 0 if either string is nil or unparseable.
func GTIDDiff(server, consumer *string) uint64 {
	if server == nil || consumer == nil {
		return 0
	}
	serverSet, err := repl.ParseGTIDSet(*server)
	if err != nil {
		return 0
	}
	consumerSet, err := repl.ParseGTIDSet(*consumer)
	if err != nil {
		return 0
	}
	return repl.Diff(serverSet, consumerSet)
}
