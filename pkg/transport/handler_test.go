package transport

import (
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/events"
)

var (
	_ Service     = (*engine.Coordinator)(nil)
	_ EventSource = (*events.Broker)(nil)
)
