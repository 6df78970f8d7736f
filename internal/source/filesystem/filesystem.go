// Package filesystem serves a directory of YAML manifests through the
// list-then-watch protocol, so controllers can run without a cluster.
//
// Every file may hold several documents. Each document becomes one
// unstructured object keyed by its namespace and name. Resource versions
// are a counter local to the process, bumped whenever a rescan finds an
// object added, changed or removed.
package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const (
	subsystem = "FilesystemSource"

	// SourceFileAnnotation records the manifest an object was read from.
	SourceFileAnnotation = "ctrlloop.giantswarm.io/source-file"

	defaultMaxHistory = 1024
)

// Object is the type produced by this source.
type Object = *unstructured.Unstructured

// Options configures a Source.
type Options struct {
	// Dir is the directory holding the manifests. It is created if missing.
	Dir string

	// DefaultNamespace is set on objects that do not declare one.
	DefaultNamespace string

	// GroupVersionKind restricts the source to one kind. The zero value
	// accepts every object.
	GroupVersionKind schema.GroupVersionKind

	// Debounce coalesces bursts of file events. Defaults to 100ms.
	Debounce time.Duration
}

// Source implements source.ListerWatcher over a directory.
type Source struct {
	dir              string
	defaultNamespace string
	gvk              schema.GroupVersionKind
	debounce         time.Duration
	maxHistory       int

	// scanMu serializes rescans so events are recorded in disk order
	scanMu sync.Mutex

	mu          sync.Mutex
	rv          uint64
	objects     map[resource.Key]Object
	history     []source.WatchEvent[Object]
	compactedRV uint64
	watchers    map[*watcher]struct{}
}

// New creates a source for opts.Dir.
func New(opts Options) (*Source, error) {
	if opts.Dir == "" {
		return nil, errors.New("filesystem source requires a directory")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", opts.Dir, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	return &Source{
		dir:              opts.Dir,
		defaultNamespace: opts.DefaultNamespace,
		gvk:              opts.GroupVersionKind,
		debounce:         opts.Debounce,
		maxHistory:       defaultMaxHistory,
		objects:          make(map[resource.Key]Object),
		watchers:         make(map[*watcher]struct{}),
	}, nil
}

// List rescans the directory and returns its contents.
func (s *Source) List(ctx context.Context) (source.ListResult[Object], error) {
	if err := s.rescan(); err != nil {
		return source.ListResult[Object]{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]resource.Key, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sortKeys(keys)

	items := make([]Object, 0, len(keys))
	for _, key := range keys {
		items = append(items, s.objects[key].DeepCopy())
	}
	return source.ListResult[Object]{Items: items, ResourceVersion: strconv.FormatUint(s.rv, 10)}, nil
}

// Watch streams changes after resourceVersion. The directory is watched
// with fsnotify and rescanned after every burst of events.
func (s *Source) Watch(ctx context.Context, resourceVersion string) (source.Watcher[Object], error) {
	var cursor uint64
	if resourceVersion != "" {
		v, err := strconv.ParseUint(resourceVersion, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid resource version %q: %w", resourceVersion, err)
		}
		cursor = v
	}

	s.mu.Lock()
	expired := cursor < s.compactedRV
	s.mu.Unlock()
	if expired {
		return nil, source.ErrExpired
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	w := &watcher{
		source:  s,
		fsw:     fsw,
		cursor:  cursor,
		notify:  make(chan struct{}, 1),
		out:     make(chan source.WatchEvent[Object]),
		stopped: make(chan struct{}),
	}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go w.run(ctx)
	logging.Debug(subsystem, "Watching %s from resource version %d", s.dir, cursor)
	return w, nil
}

// rescan reads the directory and records the difference to the current
// state as events.
func (s *Source) rescan() error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	loaded, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make([]resource.Key, 0, len(s.objects))
	for key := range s.objects {
		current = append(current, key)
	}
	sortKeys(current)
	for _, key := range current {
		if _, ok := loaded[key]; !ok {
			s.recordLocked(source.Deleted, s.objects[key])
		}
	}

	keys := make([]resource.Key, 0, len(loaded))
	for key := range loaded {
		keys = append(keys, key)
	}
	sortKeys(keys)
	for _, key := range keys {
		obj := loaded[key]
		existing, ok := s.objects[key]
		if !ok {
			s.recordLocked(source.Added, obj)
			continue
		}
		obj.SetResourceVersion(existing.GetResourceVersion())
		if !equality.Semantic.DeepEqual(existing.Object, obj.Object) {
			s.recordLocked(source.Modified, obj)
		}
	}
	return nil
}

func (s *Source) recordLocked(eventType source.EventType, obj Object) {
	s.rv++
	rv := strconv.FormatUint(s.rv, 10)

	stored := obj.DeepCopy()
	stored.SetResourceVersion(rv)
	key := resource.KeyOf(stored)
	if eventType == source.Deleted {
		delete(s.objects, key)
	} else {
		s.objects[key] = stored
	}

	s.history = append(s.history, source.WatchEvent[Object]{Type: eventType, Object: stored, ResourceVersion: rv})
	if len(s.history) > s.maxHistory {
		dropped := s.history[0]
		s.compactedRV, _ = strconv.ParseUint(dropped.ResourceVersion, 10, 64)
		s.history = s.history[1:]
	}

	logging.Debug(subsystem, "%s %s at version %s", eventType, key, rv)
	for w := range s.watchers {
		w.wake()
	}
}

// eventsSince returns copies of the events after cursor, or expired when
// some of them were already compacted away.
func (s *Source) eventsSince(cursor uint64) (events []source.WatchEvent[Object], expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor < s.compactedRV {
		return nil, true
	}
	for _, ev := range s.history {
		v, _ := strconv.ParseUint(ev.ResourceVersion, 10, 64)
		if v <= cursor {
			continue
		}
		ev.Object = ev.Object.DeepCopy()
		events = append(events, ev)
	}
	return events, false
}

func (s *Source) removeWatcher(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, w)
}

// load parses every manifest in the directory. Files that fail to parse
// are skipped with a warning so one bad file does not hide the others.
func (s *Source) load() (map[resource.Key]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.dir, err)
	}

	out := make(map[resource.Key]Object)
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		objs, err := decodeFile(path)
		if err != nil {
			logging.Warn(subsystem, "Skipping %s: %v", path, err)
			continue
		}
		for _, obj := range objs {
			if !s.accepts(obj) {
				continue
			}
			if obj.GetNamespace() == "" {
				obj.SetNamespace(s.defaultNamespace)
			}
			obj.SetResourceVersion("")
			annotations := obj.GetAnnotations()
			if annotations == nil {
				annotations = make(map[string]string)
			}
			annotations[SourceFileAnnotation] = entry.Name()
			obj.SetAnnotations(annotations)

			key := resource.KeyOf(obj)
			if prev, ok := out[key]; ok {
				logging.Warn(subsystem, "%s is declared in both %s and %s, using the latter",
					key, prev.GetAnnotations()[SourceFileAnnotation], entry.Name())
			}
			out[key] = obj
		}
	}
	return out, nil
}

func (s *Source) accepts(obj Object) bool {
	if s.gvk.Empty() {
		return true
	}
	return obj.GroupVersionKind() == s.gvk
}

// decodeFile splits a file into YAML documents and decodes each into an
// unstructured object.
func decodeFile(path string) ([]Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var objs []Object
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		js, err := sigsyaml.YAMLToJSON(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if string(js) == "null" {
			continue
		}

		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(js); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if obj.GetName() == "" {
			return nil, fmt.Errorf("document %d: metadata.name is required", i)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func sortKeys(keys []resource.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].Name < keys[j].Name
	})
}
