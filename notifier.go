package bifrost

// Notifier abstracts the platform signals the controller reacts to:
// another process rewriting the shared credential store, and the
// application returning to the foreground after being suspended or
// backgrounded. Injecting it keeps the controller testable without any
// real platform environment.
type Notifier interface {
	// OnExternalChange registers a callback fired when the credential
	// store is modified by another process.
	OnExternalChange(fn func())

	// OnForeground registers a callback fired when the application
	// regains the foreground.
	OnForeground(fn func())

	// Close releases any resources held by the notifier.
	Close() error
}

// NopNotifier is a Notifier that never fires.
type NopNotifier struct{}

func (NopNotifier) OnExternalChange(func()) {}
func (NopNotifier) OnForeground(func())     {}
func (NopNotifier) Close() error            { return nil }
