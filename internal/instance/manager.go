package instance

// Hooks lets the owner observe instance creation.
type Hooks struct {
	Created func()
	Failed  func(err error)
}

// Manager holds the lazily created instance of one worker. It is not safe
// for concurrent use; its worker is its only caller.
type Manager struct {
	opts  Options
	hooks Hooks
	inst  *Instance
	err   error
}

// NewManager returns a manager that creates its instance with opts on
// first use.
func NewManager(opts Options, hooks Hooks) *Manager {
	return &Manager{opts: opts, hooks: hooks}
}

// Ensure returns the instance, creating it on the first call. A creation
// failure is remembered: the worker is expected to stop, and later calls
// return the same error without retrying.
func (m *Manager) Ensure() (*Instance, error) {
	if m.inst != nil {
		return m.inst, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	inst, err := New(m.opts)
	if err != nil {
		m.err = err
		if m.hooks.Failed != nil {
			m.hooks.Failed(err)
		}
		return nil, err
	}
	m.inst = inst
	if m.hooks.Created != nil {
		m.hooks.Created()
	}
	return inst, nil
}

// Instance returns the current instance, or nil before the first Ensure.
func (m *Manager) Instance() *Instance { return m.inst }

// Err returns the creation failure, if any.
func (m *Manager) Err() error { return m.err }

// Run resumes the instance, creating it first if needed, and calls fn
// under Instance.Run.
func (m *Manager) Run(fn func(a *Active) error) error {
	inst, err := m.Ensure()
	if err != nil {
		return err
	}
	return inst.Run(fn)
}

// Close closes the instance if one was created.
func (m *Manager) Close() {
	if m.inst != nil {
		m.inst.Close()
	}
}
