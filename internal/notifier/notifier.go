package notifier

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so components can depend on it without
// importing concrete implementations.
type TextNotifier interface {
	SendText(text string) error
}

// Noop drops every notification. Used when no sink is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
