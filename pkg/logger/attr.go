package logger

import "log/slog"

// Error records err under "error". Returns an empty Attr for nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Service(name string) slog.Attr {
	return slog.String("service", name)
}

func EntityType(t string) slog.Attr {
	return slog.String("entity_type", t)
}

func EntityID(id string) slog.Attr {
	return slog.String("entity_id", id)
}

func StatusField(name string) slog.Attr {
	return slog.String("status_field", name)
}

func Transition(name string) slog.Attr {
	return slog.String("transition", name)
}

// Actor records the acting user. Returns an empty Attr when there is none.
func Actor(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("actor_id", id)
}

// RequestID records the request identifier under "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Count(n int64) slog.Attr {
	return slog.Int64("count", n)
}
