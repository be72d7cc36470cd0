// Package transformer runs optional per-device-kind JavaScript on decoded
// messages before they are normalized. A script defines
//
//	function transform(msg, topic) { ...; return msg; }
//
// and may return a new object or the modified input.
package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/cast"

	"github.com/eddielth/edge-ingest/config"
	"github.com/eddielth/edge-ingest/ingest"
	"github.com/eddielth/edge-ingest/logger"
)

// DefaultTimeout bounds a single script invocation
const DefaultTimeout = 500 * time.Millisecond

var errNoScript = errors.New("neither script_code nor script_path given")

// Manager holds one script per topic kind
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
	timeout      time.Duration
	log          *logger.Component
}

// Transformer is one compiled script. goja runtimes are not safe for
// concurrent use, so calls are serialized.
type Transformer struct {
	mu         sync.Mutex
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
}

// NewManager compiles a transformer for each configured kind
func NewManager(configs map[string]config.Transformer) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
		timeout:      DefaultTimeout,
		log:          logger.Named("transformer"),
	}

	for kind, cfg := range configs {
		t, err := load(cfg)
		if err != nil {
			return nil, fmt.Errorf("transformer for %s: %w", kind, err)
		}
		manager.transformers[kind] = t
		manager.log.Info("loaded transformer for %s", kind)
	}

	return manager, nil
}

func load(cfg config.Transformer) (*Transformer, error) {
	scriptCode := cfg.ScriptCode
	if scriptCode == "" {
		if cfg.ScriptPath == "" {
			return nil, errNoScript
		}
		b, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("load script %s: %w", cfg.ScriptPath, err)
		}
		scriptCode = string(b)
	}
	return newTransformer(scriptCode, cfg.ScriptPath)
}

func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()
	log := logger.Named("js")

	_ = vm.Set("log", func(msg string) {
		log.Info("%s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			log.Warn("parseJSON: %v", err)
			return nil
		}
		return data
	})

	// decimal strings with a comma separator, "22,5" -> 22.5
	_ = vm.Set("parseDecimal", func(s string) interface{} {
		f, err := cast.ToFloat64E(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
		if err != nil {
			return nil
		}
		return f
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = time.RFC3339
		}
		return time.Unix(timestamp, 0).UTC().Format(format)
	})

	_ = vm.Set("convertTemperature", func(value float64, fromUnit string, toUnit string) float64 {
		var celsius float64
		switch strings.ToUpper(fromUnit) {
		case "C":
			celsius = value
		case "F":
			celsius = (value - 32) * 5 / 9
		case "K":
			celsius = value - 273.15
		default:
			return value
		}

		switch strings.ToUpper(toUnit) {
		case "F":
			return celsius*9/5 + 32
		case "K":
			return celsius + 273.15
		default:
			return celsius
		}
	})

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	transform, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, fmt.Errorf("script does not define a transform function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// Kind returns the device kind of a reading topic, its second segment:
// iot/<kind>/<node>/reading
func Kind(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Transform runs the script registered for the topic's kind.
// Without a script, or when the script fails, msg is returned unchanged.
func (m *Manager) Transform(topic string, msg ingest.Message) ingest.Message {
	kind := Kind(topic)

	m.mutex.RLock()
	t, exists := m.transformers[kind]
	m.mutex.RUnlock()
	if !exists {
		return msg
	}

	out, err := t.run(msg, topic, m.timeout)
	if err != nil {
		m.log.Warn("script for %s failed on %s, using original message: %v", kind, topic, err)
		return msg
	}
	if _, ok := out[ingest.TopicKey]; !ok && topic != "" {
		out[ingest.TopicKey] = topic
	}
	return out
}

func (t *Transformer) run(msg ingest.Message, topic string, timeout time.Duration) (ingest.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		t.vm.Interrupt("timeout")
	})
	defer func() {
		timer.Stop()
		t.vm.ClearInterrupt()
	}()

	// the script gets a copy, the original is the fallback
	input := maps.Clone(map[string]any(msg))
	result, err := t.transform(goja.Undefined(), t.vm.ToValue(input), t.vm.ToValue(topic))
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, fmt.Errorf("transform returned %s", result)
	}

	exported, ok := result.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform returned %T, want an object", result.Export())
	}
	return ingest.Message(exported), nil
}

// Kinds lists the kinds that have a script
func (m *Manager) Kinds() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	kinds := make([]string, 0, len(m.transformers))
	for kind := range m.transformers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// ReloadTransformer recompiles the script of one kind
func (m *Manager) ReloadTransformer(kind string, cfg config.Transformer) error {
	t, err := load(cfg)
	if err != nil {
		return fmt.Errorf("reload transformer for %s: %w", kind, err)
	}

	m.mutex.Lock()
	m.transformers[kind] = t
	m.mutex.Unlock()

	m.log.Info("reloaded transformer for %s", kind)
	return nil
}

// Apply replaces the whole transformer set from a reloaded config.
// Kinds missing from configs are dropped. On error nothing changes.
func (m *Manager) Apply(configs map[string]config.Transformer) error {
	next := make(map[string]*Transformer, len(configs))
	for kind, cfg := range configs {
		t, err := load(cfg)
		if err != nil {
			return fmt.Errorf("transformer for %s: %w", kind, err)
		}
		next[kind] = t
	}

	m.mutex.Lock()
	m.transformers = next
	m.mutex.Unlock()

	m.log.Info("applied %d transformers", len(next))
	return nil
}
