package redis

// Redis key naming for conveyor data. All keys carry the "conveyor:" prefix
// to avoid collisions with other tenants of the same database.

const keyPrefix = "conveyor:"

// jobKey returns the Hash key for a job record: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue's deliverable jobs:
// conveyor:queue:{name}. Scores order by priority, then NotBefore.
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queuesKey is the Set tracking all queue names seen by Enqueue, so a
// Dequeue over all queues knows where to look.
const queuesKey = keyPrefix + "queues"

// activeKey is the Sorted Set of leased jobs scored by lease expiry in unix
// milliseconds. The reclaimer range-scans it instead of walking every job.
const activeKey = keyPrefix + "active"
