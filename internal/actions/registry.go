package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Dispatcher routes nodes to the handler registered for their kind family.
// It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[schema.KindFamily]Handler
}

// NewDispatcher registers the given handlers and fails unless every
// dispatchable family is covered.
func NewDispatcher(handlers ...Handler) (*Dispatcher, error) {
	d := &Dispatcher{handlers: make(map[schema.KindFamily]Handler)}
	for _, h := range handlers {
		if err := d.Register(h); err != nil {
			return nil, err
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Register adds a handler for each of its families. A family that is already
// taken is a conflict and nothing is registered.
func (d *Dispatcher) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	families := h.Families()
	if len(families) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "handler declares no families")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range families {
		if f == schema.FamilyEnd {
			return schema.NewError(schema.ErrCodeValidation, "end nodes cannot have a handler")
		}
		if _, exists := d.handlers[f]; exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "handler for family %q already registered", f)
		}
	}
	for _, f := range families {
		d.handlers[f] = h
	}
	return nil
}

// Missing returns the dispatchable families without a handler.
func (d *Dispatcher) Missing() []schema.KindFamily {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []schema.KindFamily
	for _, f := range schema.Families() {
		if f == schema.FamilyEnd {
			continue
		}
		if _, ok := d.handlers[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Validate fails when some node kind could not be dispatched.
func (d *Dispatcher) Validate() error {
	if missing := d.Missing(); len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "no handler for families %v", missing).
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// Handler returns the handler for a node kind.
func (d *Dispatcher) Handler(kind schema.NodeKind) (Handler, error) {
	if !kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node kind %q", kind)
	}
	if kind == schema.KindEnd {
		return nil, schema.NewError(schema.ErrCodeExecution, "end nodes are never dispatched")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind.Family()]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no handler for node kind %q", kind)
	}
	return h, nil
}

// Execute runs the handler for node.Kind with the aggregated input.
func (d *Dispatcher) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	if node == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "node is nil")
	}
	h, err := d.Handler(node.Kind)
	if err != nil {
		if fe, ok := err.(*schema.FlowError); ok {
			return "", fe.WithNode(node.ID)
		}
		return "", err
	}
	return h.Execute(ctx, node, input)
}

// List returns one entry per registered family, sorted by family.
func (d *Dispatcher) List() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byFamily := make(map[schema.KindFamily][]schema.NodeKind)
	for _, k := range schema.Kinds() {
		byFamily[k.Family()] = append(byFamily[k.Family()], k)
	}

	infos := make([]HandlerInfo, 0, len(d.handlers))
	for f, h := range d.handlers {
		infos = append(infos, HandlerInfo{
			Family:      f,
			Kinds:       byFamily[f],
			Description: h.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Family < infos[j].Family })
	return infos
}

// ConfigSchema returns the config schema of the handler serving kind, if any.
func (d *Dispatcher) ConfigSchema(kind schema.NodeKind) []byte {
	h, err := d.Handler(kind)
	if err != nil {
		return nil
	}
	return h.Schema().ConfigSchema
}
