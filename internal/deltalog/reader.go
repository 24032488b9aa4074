// Package deltalog reads the transaction log of a Delta table and recovers
// the table's current metadata.
package deltalog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/arkilian/deltaschema/internal/checkpoint"
	"github.com/arkilian/deltaschema/internal/storage"
	"github.com/arkilian/deltaschema/pkg/types"
)

// LogDir is the directory of the transaction log inside a table.
const LogDir = "_delta_log"

var (
	// ErrTableNotFound means the table location holds no commit or
	// checkpoint files.
	ErrTableNotFound = errors.New("no delta log commits found")
	// ErrNoMetadata means no commit or checkpoint carried a metaData action.
	ErrNoMetadata = errors.New("delta log has no metaData action")
)

var (
	commitPattern     = regexp.MustCompile(`^(\d{20})\.json$`)
	checkpointPattern = regexp.MustCompile(`^(\d{20})\.checkpoint(\.\d+\.\d+)?\.parquet$`)
)

// Metadata is the content of a metaData action.
type Metadata struct {
	ID               string
	Name             string
	Description      string
	Provider         string
	SchemaString     string
	Schema           types.Schema
	PartitionColumns []string
	Configuration    map[string]string
	CreatedTime      int64
}

// Protocol is the content of a protocol action.
type Protocol struct {
	MinReaderVersion int
	MinWriterVersion int
}

// Snapshot is the state of the log at its latest commit.
type Snapshot struct {
	// Version is the latest commit or checkpoint version.
	Version int64
	// MetadataVersion is the commit that carried Metadata.
	MetadataVersion int64
	Metadata        Metadata
	Protocol        *Protocol
	// Checkpoints lists the versions that have a checkpoint file, ascending.
	Checkpoints []int64
	// Checkpoint is the version of the checkpoint the snapshot was seeded
	// from, or -1 when every commit since version 0 was replayed.
	Checkpoint int64
}

// Reader reads table logs from object storage.
type Reader struct {
	storage    storage.ObjectStorage
	downloader *storage.BatchDownloader
	parsers    fastjson.ParserPool
}

// NewReader creates a log reader. concurrency bounds parallel commit
// downloads; cacheDir, when not empty, caches commit files locally.
func NewReader(store storage.ObjectStorage, concurrency int, cacheDir string) *Reader {
	return &Reader{
		storage:    store,
		downloader: storage.NewBatchDownloader(store, concurrency, cacheDir),
	}
}

// Snapshot returns the latest state of the table at tablePath. Commits
// apply in version order, so later metaData and protocol actions replace
// earlier ones. When log retention has removed commit 0, the state is
// seeded from the newest checkpoint and only the commits after it are
// replayed.
func (r *Reader) Snapshot(ctx context.Context, tablePath string) (*Snapshot, error) {
	logPrefix := storage.JoinPath(tablePath, LogDir)
	objects, err := r.storage.ListObjects(ctx, logPrefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", logPrefix, err)
	}

	commits, checkpoints, parts := classify(objects)
	if len(commits) == 0 && len(checkpoints) == 0 {
		return nil, fmt.Errorf("%s: %w", tablePath, ErrTableNotFound)
	}

	snap := &Snapshot{Checkpoints: checkpoints, Checkpoint: -1}
	found := false
	if (len(commits) == 0 || commits[0].version > 0) && len(checkpoints) > 0 {
		cp := checkpoints[len(checkpoints)-1]
		if found, err = r.applyCheckpoint(ctx, snap, cp, parts[cp]); err != nil {
			return nil, err
		}
		snap.Checkpoint = cp
		snap.Version = cp
		commits = commitsAfter(commits, cp)
	}

	paths := make([]string, len(commits))
	for i, c := range commits {
		paths[i] = c.path
	}
	result, err := r.downloader.Fetch(ctx, paths)
	if err != nil {
		return nil, err
	}
	if err := result.Err(paths); err != nil {
		return nil, err
	}

	for _, c := range commits {
		ok, err := r.applyCommit(snap, c, result.Contents[c.path])
		if err != nil {
			return nil, err
		}
		found = found || ok
		snap.Version = c.version
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", tablePath, ErrNoMetadata)
	}
	return snap, nil
}

func commitsAfter(commits []commitFile, version int64) []commitFile {
	i := sort.Search(len(commits), func(i int) bool { return commits[i].version > version })
	return commits[i:]
}

// applyCheckpoint seeds the snapshot from the parts of the checkpoint at
// version and reports whether they carried a metaData action.
func (r *Reader) applyCheckpoint(ctx context.Context, snap *Snapshot, version int64, parts []string) (bool, error) {
	found := false
	for _, part := range parts {
		data, err := r.storage.Get(ctx, part)
		if err != nil {
			return false, &types.CheckpointReadError{Source: part, Err: err}
		}
		actions, err := checkpoint.ReadActions(ctx, part, bytes.NewReader(data))
		if err != nil {
			return false, err
		}

		p := r.parsers.Get()
		ok, err := applyActions(p, snap, version, part, actions)
		r.parsers.Put(p)
		if err != nil {
			return false, err
		}
		found = found || ok
	}
	return found, nil
}

func applyActions(p *fastjson.Parser, snap *Snapshot, version int64, part string, actions *checkpoint.Actions) (bool, error) {
	where := path.Base(part)
	if actions.Protocol != nil {
		v, err := p.ParseBytes(actions.Protocol)
		if err != nil {
			return false, &types.ParseError{Path: where + ".protocol", Msg: "invalid action JSON", Err: err}
		}
		snap.Protocol = decodeProtocol(v)
	}
	if actions.MetaData == nil {
		return false, nil
	}
	v, err := p.ParseBytes(actions.MetaData)
	if err != nil {
		return false, &types.ParseError{Path: where + ".metaData", Msg: "invalid action JSON", Err: err}
	}
	md, err := decodeMetadata(v, where)
	if err != nil {
		return false, err
	}
	snap.Metadata = md
	snap.MetadataVersion = version
	return true, nil
}

type commitFile struct {
	version int64
	path    string
}

// classify splits a log listing into commits and checkpoint versions, both
// ascending, and the object paths of each checkpoint's parts in part order.
func classify(objects []string) ([]commitFile, []int64, map[int64][]string) {
	var commits []commitFile
	var checkpoints []int64
	parts := make(map[int64][]string)
	for _, obj := range objects {
		name := path.Base(obj)
		if m := commitPattern.FindStringSubmatch(name); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			commits = append(commits, commitFile{version: v, path: obj})
			continue
		}
		if m := checkpointPattern.FindStringSubmatch(name); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			if _, ok := parts[v]; !ok {
				checkpoints = append(checkpoints, v)
			}
			parts[v] = append(parts[v], obj)
		}
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i].version < commits[j].version })
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i] < checkpoints[j] })
	for _, p := range parts {
		sort.Strings(p)
	}
	return commits, checkpoints, parts
}

// applyCommit folds one commit file into the snapshot and reports whether
// it carried a metaData action.
func (r *Reader) applyCommit(snap *Snapshot, c commitFile, data []byte) (bool, error) {
	p := r.parsers.Get()
	defer r.parsers.Put(p)

	found := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		where := fmt.Sprintf("%s:%d", path.Base(c.path), line)

		v, err := p.ParseBytes(raw)
		if err != nil {
			return false, &types.ParseError{Path: where, Msg: "invalid action JSON", Err: err}
		}
		action, err := v.Object()
		if err != nil {
			return false, &types.ParseError{Path: where, Msg: "action is not an object"}
		}

		if mv := action.Get("metaData"); mv != nil {
			md, err := decodeMetadata(mv, where)
			if err != nil {
				return false, err
			}
			snap.Metadata = md
			snap.MetadataVersion = c.version
			found = true
		}
		if pv := action.Get("protocol"); pv != nil {
			snap.Protocol = decodeProtocol(pv)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, &types.ParseError{Path: path.Base(c.path), Msg: "read commit", Err: err}
	}
	return found, nil
}

func decodeProtocol(v *fastjson.Value) *Protocol {
	return &Protocol{
		MinReaderVersion: v.GetInt("minReaderVersion"),
		MinWriterVersion: v.GetInt("minWriterVersion"),
	}
}

func decodeMetadata(v *fastjson.Value, where string) (Metadata, error) {
	if v.Type() != fastjson.TypeObject {
		return Metadata{}, &types.ParseError{Path: where + ".metaData", Msg: "expected an object"}
	}

	md := Metadata{
		ID:           string(v.GetStringBytes("id")),
		Name:         string(v.GetStringBytes("name")),
		Description:  string(v.GetStringBytes("description")),
		Provider:     string(v.GetStringBytes("format", "provider")),
		SchemaString: string(v.GetStringBytes("schemaString")),
		CreatedTime:  v.GetInt64("createdTime"),
	}
	if md.SchemaString == "" {
		return Metadata{}, &types.ParseError{Path: where + ".metaData.schemaString", Msg: "missing schema string"}
	}

	schema, err := types.ParseSchemaString(md.SchemaString)
	if err != nil {
		return Metadata{}, &types.ParseError{Path: where + ".metaData.schemaString", Msg: "invalid table schema", Err: err}
	}
	md.Schema = schema

	for i, pc := range v.GetArray("partitionColumns") {
		b, err := pc.StringBytes()
		if err != nil {
			return Metadata{}, &types.ParseError{Path: fmt.Sprintf("%s.metaData.partitionColumns[%d]", where, i), Msg: "expected a string"}
		}
		md.PartitionColumns = append(md.PartitionColumns, string(b))
	}

	// Commits carry configuration as an object; checkpoints as a map
	// column, an array of key/value entries.
	if conf := v.GetObject("configuration"); conf != nil {
		md.Configuration = make(map[string]string, conf.Len())
		conf.Visit(func(key []byte, val *fastjson.Value) {
			if b, err := val.StringBytes(); err == nil {
				md.Configuration[string(key)] = string(b)
			}
		})
	} else if entries := v.GetArray("configuration"); len(entries) > 0 {
		md.Configuration = make(map[string]string, len(entries))
		for _, e := range entries {
			if k := e.GetStringBytes("key"); k != nil {
				md.Configuration[string(k)] = string(e.GetStringBytes("value"))
			}
		}
	}
	return md, nil
}
