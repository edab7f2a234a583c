package wire

import "github.com/maxiokv/dkvd/internal/clock"

// SyncInitMsg begins an anti-entropy pull.
type SyncInitMsg struct {
	MapName    string
	LastSyncTs clock.Timestamp
}

func (m SyncInitMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	putTimestamp(e, m.LastSyncTs)
	return e.bytes()
}

func UnmarshalSyncInit(b []byte) (SyncInitMsg, error) {
	d := newDecoder(b)
	name, err := d.getString()
	if err != nil {
		return SyncInitMsg{}, err
	}
	ts, err := getTimestamp(d)
	if err != nil {
		return SyncInitMsg{}, err
	}
	return SyncInitMsg{MapName: name, LastSyncTs: ts}, d.done()
}

// SyncRespRootMsg answers SyncInitMsg with the current Merkle root (step 2).
type SyncRespRootMsg struct {
	RootHash []byte
	AsOf     clock.Timestamp
}

func (m SyncRespRootMsg) Marshal() []byte {
	e := newEncoder()
	e.putBytes(m.RootHash)
	putTimestamp(e, m.AsOf)
	return e.bytes()
}

func UnmarshalSyncRespRoot(b []byte) (SyncRespRootMsg, error) {
	d := newDecoder(b)
	hash, err := d.getBytes()
	if err != nil {
		return SyncRespRootMsg{}, err
	}
	ts, err := getTimestamp(d)
	if err != nil {
		return SyncRespRootMsg{}, err
	}
	return SyncRespRootMsg{RootHash: hash, AsOf: ts}, d.done()
}

// SyncReqBucketMsg requests child hashes or leaf entries for a tree path.
type SyncReqBucketMsg struct {
	MapName string
	Path    []uint8
}

func (m SyncReqBucketMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	e.putUint32(uint32(len(m.Path)))
	for _, p := range m.Path {
		e.putUint8(p)
	}
	return e.bytes()
}

func UnmarshalSyncReqBucket(b []byte) (SyncReqBucketMsg, error) {
	d := newDecoder(b)
	name, err := d.getString()
	if err != nil {
		return SyncReqBucketMsg{}, err
	}
	n, err := d.getUint32()
	if err != nil {
		return SyncReqBucketMsg{}, err
	}
	path := make([]uint8, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := d.getUint8()
		if err != nil {
			return SyncReqBucketMsg{}, err
		}
		path = append(path, v)
	}
	return SyncReqBucketMsg{MapName: name, Path: path}, d.done()
}

// SyncRespBucketsMsg carries the child-bucket hashes for an internal node.
type SyncRespBucketsMsg struct {
	ChildHashes [][]byte
}

func (m SyncRespBucketsMsg) Marshal() []byte {
	e := newEncoder()
	e.putUint32(uint32(len(m.ChildHashes)))
	for _, h := range m.ChildHashes {
		e.putBytes(h)
	}
	return e.bytes()
}

func UnmarshalSyncRespBuckets(b []byte) (SyncRespBucketsMsg, error) {
	d := newDecoder(b)
	n, err := d.getUint32()
	if err != nil {
		return SyncRespBucketsMsg{}, err
	}
	hashes := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		h, err := d.getBytes()
		if err != nil {
			return SyncRespBucketsMsg{}, err
		}
		hashes = append(hashes, h)
	}
	return SyncRespBucketsMsg{ChildHashes: hashes}, d.done()
}

// SyncEntry is a single key's record as exchanged during leaf sync or diff
// push. Tag/Tombstones are populated for OR-map entries only.
type SyncEntry struct {
	Key       string
	Value     []byte
	Timestamp clock.Timestamp
	Tag       string
	Tombstone bool
}

func putEntry(e *encoder, s SyncEntry) {
	e.putString(s.Key)
	e.putBytes(s.Value)
	putTimestamp(e, s.Timestamp)
	e.putString(s.Tag)
	e.putBool(s.Tombstone)
}

func getEntry(d *decoder) (SyncEntry, error) {
	var s SyncEntry
	var err error
	if s.Key, err = d.getString(); err != nil {
		return s, err
	}
	if s.Value, err = d.getBytes(); err != nil {
		return s, err
	}
	if s.Timestamp, err = getTimestamp(d); err != nil {
		return s, err
	}
	if s.Tag, err = d.getString(); err != nil {
		return s, err
	}
	if s.Tombstone, err = d.getBool(); err != nil {
		return s, err
	}
	return s, nil
}

// SyncRespLeafMsg carries the full entry set of a leaf bucket.
type SyncRespLeafMsg struct {
	Entries     []SyncEntry
	Tombstones  []string // OR-map tombstone tags relevant to this leaf
}

func (m SyncRespLeafMsg) Marshal() []byte {
	e := newEncoder()
	e.putUint32(uint32(len(m.Entries)))
	for _, entry := range m.Entries {
		putEntry(e, entry)
	}
	e.putUint32(uint32(len(m.Tombstones)))
	for _, tag := range m.Tombstones {
		e.putString(tag)
	}
	return e.bytes()
}

func UnmarshalSyncRespLeaf(b []byte) (SyncRespLeafMsg, error) {
	d := newDecoder(b)
	n, err := d.getUint32()
	if err != nil {
		return SyncRespLeafMsg{}, err
	}
	entries := make([]SyncEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		entry, err := getEntry(d)
		if err != nil {
			return SyncRespLeafMsg{}, err
		}
		entries = append(entries, entry)
	}
	tn, err := d.getUint32()
	if err != nil {
		return SyncRespLeafMsg{}, err
	}
	tombstones := make([]string, 0, tn)
	for i := uint32(0); i < tn; i++ {
		tag, err := d.getString()
		if err != nil {
			return SyncRespLeafMsg{}, err
		}
		tombstones = append(tombstones, tag)
	}
	return SyncRespLeafMsg{Entries: entries, Tombstones: tombstones}, d.done()
}

// SyncDiffRequestMsg asks the peer for a specific key set.
type SyncDiffRequestMsg struct {
	MapName string
	Keys    []string
}

func (m SyncDiffRequestMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	e.putUint32(uint32(len(m.Keys)))
	for _, k := range m.Keys {
		e.putString(k)
	}
	return e.bytes()
}

func UnmarshalSyncDiffRequest(b []byte) (SyncDiffRequestMsg, error) {
	d := newDecoder(b)
	name, err := d.getString()
	if err != nil {
		return SyncDiffRequestMsg{}, err
	}
	n, err := d.getUint32()
	if err != nil {
		return SyncDiffRequestMsg{}, err
	}
	keys := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := d.getString()
		if err != nil {
			return SyncDiffRequestMsg{}, err
		}
		keys = append(keys, k)
	}
	return SyncDiffRequestMsg{MapName: name, Keys: keys}, d.done()
}

// SyncPushDiffMsg / SyncDiffResponseMsg share the same shape: a batch of
// entries for the peer to merge.
type SyncPushDiffMsg struct {
	MapName string
	Entries []SyncEntry
}

func (m SyncPushDiffMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	e.putUint32(uint32(len(m.Entries)))
	for _, entry := range m.Entries {
		putEntry(e, entry)
	}
	return e.bytes()
}

func UnmarshalSyncPushDiff(b []byte) (SyncPushDiffMsg, error) {
	d := newDecoder(b)
	name, err := d.getString()
	if err != nil {
		return SyncPushDiffMsg{}, err
	}
	n, err := d.getUint32()
	if err != nil {
		return SyncPushDiffMsg{}, err
	}
	entries := make([]SyncEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		entry, err := getEntry(d)
		if err != nil {
			return SyncPushDiffMsg{}, err
		}
		entries = append(entries, entry)
	}
	return SyncPushDiffMsg{MapName: name, Entries: entries}, d.done()
}
