package atlas

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/woozymasta/nodeatlas/internal/models"
)

// Snapshot is a read-only view of every known node at one moment.
type Snapshot struct {
	UpdatedAt time.Time
	ETag      string
	Nodes     []models.Node
	Version   uint64
}

// Cache keeps the current snapshot. Readers never block; writers replace
// the snapshot wholesale.
type Cache struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewCache returns an empty cache. The zero value is ready to use too.
func NewCache() *Cache {
	return &Cache{}
}

// Loaded reports whether a snapshot was stored.
func (c *Cache) Loaded() bool {
	return c.current.Load() != nil
}

// Load returns the current snapshot, or an empty one before the first Store.
func (c *Cache) Load() *Snapshot {
	if s := c.current.Load(); s != nil {
		return s
	}
	return &Snapshot{ETag: etag(nil)}
}

// Store replaces the snapshot with a copy of nodes and returns it.
func (c *Cache) Store(nodes []models.Node) *Snapshot {
	s := &Snapshot{
		Nodes:     append([]models.Node(nil), nodes...),
		UpdatedAt: time.Now().UTC(),
		Version:   c.version.Add(1),
	}
	s.ETag = etag(s.Nodes)
	c.current.Store(s)
	return s
}

func etag(nodes []models.Node) string {
	d := xxhash.New()
	var buf []byte
	for _, n := range nodes {
		buf = buf[:0]
		buf = appendField(buf, n.Addr)
		buf = strconv.AppendUint(buf, uint64(n.Status), 16)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, n.UpdatedAt.UnixNano(), 16)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, n.RetrieveTime, 16)
		buf = append(buf, ':')
		buf = strconv.AppendFloat(buf, n.Latitude, 'g', -1, 64)
		buf = append(buf, ':')
		buf = strconv.AppendFloat(buf, n.Longitude, 'g', -1, 64)
		buf = append(buf, ':')
		buf = appendField(buf, []byte(n.OwnerName))
		buf = appendField(buf, []byte(n.Contact))
		buf = appendField(buf, []byte(n.Details))
		buf = appendField(buf, []byte(n.Country))
		_, _ = d.Write(buf)
	}
	return `"` + strconv.FormatUint(d.Sum64(), 16) + `"`
}

// appendField writes a length-prefixed field so that adjacent fields cannot
// run into each other.
func appendField(buf, field []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(field)), 10)
	buf = append(buf, ':')
	return append(buf, field...)
}
