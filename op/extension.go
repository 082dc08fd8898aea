package op

// Middleware rewrites an op at table construction time. It sees every op of
// every extension, not only its own.
type Middleware func(name string, o Op) Op

// Extension groups ops with the state they need.
type Extension struct {
	name       string
	ops        []Op
	init       []func(*State) error
	middleware []Middleware
}

// Name returns the extension name.
func (e *Extension) Name() string { return e.name }

// Ops returns the declared ops in declaration order.
func (e *Extension) Ops() []Op { return e.ops }

// Init runs the extension's state initialisers in order.
func (e *Extension) Init(s *State) error {
	for _, fn := range e.init {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// ExtensionBuilder provides fluent extension construction.
type ExtensionBuilder struct {
	ext Extension
}

// NewExtension starts an extension named name.
func NewExtension(name string) *ExtensionBuilder {
	return &ExtensionBuilder{ext: Extension{name: name}}
}

// Ops appends op declarations.
func (b *ExtensionBuilder) Ops(ops ...Op) *ExtensionBuilder {
	b.ext.ops = append(b.ext.ops, ops...)
	return b
}

// State appends a state initialiser, run once when the kernel is built.
func (b *ExtensionBuilder) State(fn func(*State) error) *ExtensionBuilder {
	b.ext.init = append(b.ext.init, fn)
	return b
}

// Middleware appends an op middleware.
func (b *ExtensionBuilder) Middleware(mw Middleware) *ExtensionBuilder {
	b.ext.middleware = append(b.ext.middleware, mw)
	return b
}

// Build returns the extension.
func (b *ExtensionBuilder) Build() *Extension {
	ext := b.ext
	return &ext
}
