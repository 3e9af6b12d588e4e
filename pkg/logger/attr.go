package logger

import "log/slog"

// Error records err under "error". A nil error yields an empty Attr, which
// slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event names a state transition or webhook event.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func CustomerID(id string) slog.Attr {
	return optionalString("customer_id", id)
}

func SubscriptionID(id string) slog.Attr {
	return optionalString("subscription_id", id)
}

func PaymentID(id string) slog.Attr {
	return optionalString("payment_id", id)
}

func PlanCode(code string) slog.Attr {
	return optionalString("plan_code", code)
}

// Amount records a minor-unit amount with its currency as a group.
func Amount(amount int64, currency string) slog.Attr {
	return slog.Group("amount", slog.Int64("value", amount), slog.String("currency", currency))
}

// Transition records a status change as "from -> to".
func Transition(from, to string) slog.Attr {
	return slog.Group("status", slog.String("from", from), slog.String("to", to))
}

func optionalString(key, v string) slog.Attr {
	if v == "" {
		return slog.Attr{}
	}
	return slog.String(key, v)
}
