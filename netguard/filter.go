package netguard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
)

// EnvBlocklistFile overrides the blocklist path when set.
const EnvBlocklistFile = "egress.blocklist.file"

// DefaultBlocklistFile is the path used when no override is configured.
const DefaultBlocklistFile = "blocklist.bin"

// DefaultReloadInterval is the polling cadence of the background reloader.
const DefaultReloadInterval = 60 * time.Second

// ErrEgressDenied is matched by errors.Is for every egress rejection.
var ErrEgressDenied = errors.New("egress denied")

// EgressError reports a rejected outbound destination.
type EgressError struct {
	Host   string
	IP     string
	Reason string
}

func (e *EgressError) Error() string {
	switch {
	case e.Host != "" && e.IP != "":
		return fmt.Sprintf("egress denied: host %s resolves to blocked address %s", e.Host, e.IP)
	case e.IP != "":
		return fmt.Sprintf("egress denied: blocked address %s", e.IP)
	default:
		return "egress denied: " + e.Reason
	}
}

func (e *EgressError) Is(target error) bool { return target == ErrEgressDenied }

const (
	modeRanges = iota + 1
	modeTrie
)

// blockState is one immutable snapshot of the loaded blocklist. A nil data
// slice is the Missing state: every non-loopback address is blocked.
type blockState struct {
	data  mmap.MMap
	mode  int
	count int
	mtime time.Time
	size  int64
}

var missing = &blockState{}

// Filter enforces the IP egress blocklist. Lookups read an atomic snapshot;
// reloads are serialized and swap the snapshot whole, so concurrent lookups
// see either the previous or the new state, never a mix.
type Filter struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	retired mmap.MMap // unmapped one reload later, after in-flight readers drain
	state   atomic.Pointer[blockState]

	stopReload chan struct{}
	reloadOnce sync.Once
}

// NewFilter creates a filter over the given blocklist file and attempts an
// initial load. A missing or malformed file leaves the filter fail-closed.
func NewFilter(path string, log *slog.Logger) *Filter {
	if log == nil {
		log = slog.Default()
	}
	f := &Filter{path: path, log: log, stopReload: make(chan struct{})}
	f.state.Store(missing)
	f.EnsureLoaded()
	return f
}

// BlocklistPath resolves the configured blocklist location.
func BlocklistPath() string {
	if p := os.Getenv(EnvBlocklistFile); p != "" {
		return p
	}
	return DefaultBlocklistFile
}

// EnsureLoaded reloads the blocklist if the file changed since the last load.
// It never returns an error: any stat, mmap, or format failure collapses the
// state to Missing so enforcement fails closed.
func (f *Filter) EnsureLoaded() {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		f.collapse("stat", err)
		return
	}

	cur := f.state.Load()
	if cur.data != nil && cur.mtime.Equal(info.ModTime()) && cur.size == info.Size() {
		return
	}

	file, err := os.Open(f.path)
	if err != nil {
		f.collapse("open", err)
		return
	}
	defer file.Close()

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		f.collapse("mmap", err)
		return
	}

	next, err := parseState(data, info)
	if err != nil {
		data.Unmap()
		f.collapse("parse", err)
		return
	}

	f.swap(next)
	f.log.Info("blocklist loaded", "path", f.path, "size", info.Size(), "mode", modeName(next.mode))
}

func parseState(data mmap.MMap, info os.FileInfo) (*blockState, error) {
	if len(data) < 8 {
		return nil, errors.New("file too short")
	}
	s := &blockState{data: data, mtime: info.ModTime(), size: info.Size()}
	switch string(data[:4]) {
	case MagicRanges:
		s.mode = modeRanges
		s.count = int(binary.BigEndian.Uint32(data[4:8]))
		if len(data) < 8+s.count*8 {
			return nil, errors.New("truncated range list")
		}
	case MagicTrie:
		s.mode = modeTrie
	default:
		return nil, fmt.Errorf("unknown magic %q", data[:4])
	}
	return s, nil
}

func modeName(mode int) string {
	if mode == modeTrie {
		return "trie"
	}
	return "ranges"
}

func (f *Filter) collapse(stage string, err error) {
	if cur := f.state.Load(); cur.data != nil {
		f.log.Warn("blocklist unavailable, failing closed", "stage", stage, "error", err)
	}
	f.swap(missing)
}

// swap publishes the next state. The previous mapping is retired for one more
// generation so lookups that loaded the old pointer never touch an unmapped
// region.
func (f *Filter) swap(next *blockState) {
	prev := f.state.Swap(next)
	if f.retired != nil {
		f.retired.Unmap()
	}
	f.retired = prev.data
}

// IsBlocked reports whether the address is denied egress. Loopback is never
// egress and is always allowed; a missing blocklist blocks everything else.
func (f *Filter) IsBlocked(ip uint32) bool {
	if ip>>24 == 127 {
		return false
	}
	s := f.state.Load()
	if s.data == nil {
		return true
	}
	switch s.mode {
	case modeRanges:
		return rangeLookup(s.data, s.count, ip)
	case modeTrie:
		return trieLookup(s.data, ip)
	}
	return true
}

func rangeLookup(data []byte, count int, ip uint32) bool {
	idx := sort.Search(count, func(i int) bool {
		start := binary.BigEndian.Uint32(data[8+i*8:])
		return start > ip
	})
	if idx == 0 {
		return false
	}
	off := 8 + (idx-1)*8
	start := binary.BigEndian.Uint32(data[off:])
	end := binary.BigEndian.Uint32(data[off+4:])
	return start <= ip && ip <= end
}

func trieLookup(data []byte, ip uint32) bool {
	off := trieHeaderSize
	if len(data) < off+trieNodeSize {
		return false
	}
	bitIdx := 0
	for {
		if off+trieNodeSize > len(data) {
			return true
		}
		switch data[off] {
		case nodeLeaf:
			return true
		case nodeBranch:
			// The stored index is authoritative: a compressed node may
			// jump several bits past its parent.
			bitIdx = int(data[off+1])
			if bitIdx >= 32 {
				return true
			}
			bit := ip >> (31 - bitIdx) & 1
			childOff := 2 + int(bit)*4
			next := binary.BigEndian.Uint32(data[off+childOff:])
			if next == 0 {
				return false
			}
			off = int(next)
			bitIdx++
		default:
			return true
		}
	}
}

// EnforceURI rejects a URI whose host is, or resolves to, a blocked address.
// URIs without a host (file schemes and the like) are allowed. DNS failures
// and hosts with no IPv4 answers are denied.
func (f *Filter) EnforceURI(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &EgressError{Reason: "invalid URL"}
	}
	host := u.Hostname()
	if host == "" {
		return nil
	}

	if ip, err := ParseIPv4(host); err == nil {
		if f.IsBlocked(ip) {
			return &EgressError{IP: host}
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return &EgressError{Host: host, Reason: "DNS failure"}
	}
	checked := false
	for _, addr := range addrs {
		ip4 := addr.To4()
		if ip4 == nil {
			continue
		}
		checked = true
		if v := binary.BigEndian.Uint32(ip4); f.IsBlocked(v) {
			return &EgressError{Host: host, IP: FormatIPv4(v)}
		}
	}
	if !checked {
		return &EgressError{Host: host, Reason: "no resolvable IPv4"}
	}
	return nil
}

// StartReloader polls EnsureLoaded on the given interval until Stop is
// called. An interval of zero uses the default.
func (f *Filter) StartReloader(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.EnsureLoaded()
			case <-f.stopReload:
				return
			}
		}
	}()
}

// Stop halts the background reloader.
func (f *Filter) Stop() {
	f.reloadOnce.Do(func() { close(f.stopReload) })
}
