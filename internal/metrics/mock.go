package metrics

// NoopProvider discards all metric updates. Used in tests.
type NoopProvider struct{}

func (NoopProvider) ConnectionOpened() {}
func (NoopProvider) ConnectionClosed() {}
func (NoopProvider) RoomLoaded()       {}
func (NoopProvider) RoomUnloaded()     {}
func (NoopProvider) MessagePublished() {}
func (NoopProvider) EventDelivered()   {}
func (NoopProvider) EventDropped()     {}
