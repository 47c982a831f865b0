package id

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	node    *snowflake.Node
	once    sync.Once
	initErr error
)

// Init sets the Snowflake node id used for numeric component ids.
// It only has effect on the first call; later calls return the first result.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// Numeric returns a time-ordered int64 id. Node 1 is used when Init was never called.
func Numeric() int64 {
	if err := Init(1); err != nil {
		panic("snowflake node: " + err.Error())
	}
	return node.Generate().Int64()
}

// ULID returns a new lexicographically sortable id, used for component uuids and plan keys.
func ULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// IssueKey returns a random uuid, the format issue keys are exchanged in.
func IssueKey() string {
	return uuid.NewString()
}
