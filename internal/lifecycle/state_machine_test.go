package lifecycle

import (
	"errors"
	"testing"

	"statarbitrage/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{models.PairStatusSelected, models.PairStatusTrading, true},
		{models.PairStatusSelected, models.PairStatusObserved, true},
		{models.PairStatusSelected, models.PairStatusError, true},
		{models.PairStatusSelected, models.PairStatusClosed, false},
		{models.PairStatusObserved, models.PairStatusSelected, true},
		{models.PairStatusObserved, models.PairStatusClosed, true},
		{models.PairStatusObserved, models.PairStatusTrading, false},
		{models.PairStatusTrading, models.PairStatusTrading, true}, // усреднение
		{models.PairStatusTrading, models.PairStatusClosed, true},
		{models.PairStatusTrading, models.PairStatusError, true},
		{models.PairStatusTrading, models.PairStatusSelected, false},
		{models.PairStatusClosed, models.PairStatusTrading, false},
		{models.PairStatusError, models.PairStatusTrading, false},
		{models.PairStatusClosed, models.PairStatusClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	p := &models.Pair{Status: models.PairStatusSelected, PairName: "AAA/BBB"}

	if err := Transition(p, models.PairStatusTrading); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if p.Status != models.PairStatusTrading {
		t.Errorf("статус = %s, ожидался TRADING", p.Status)
	}

	err := Transition(p, models.PairStatusSelected)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ожидалась ErrInvalidTransition, получено: %v", err)
	}
	if p.Status != models.PairStatusTrading {
		t.Errorf("статус изменился при отклоненном переходе: %s", p.Status)
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(models.PairStatusClosed) || !IsTerminal(models.PairStatusError) {
		t.Error("CLOSED и ERROR должны быть терминальными")
	}
	if IsTerminal(models.PairStatusTrading) || IsTerminal(models.PairStatusSelected) {
		t.Error("TRADING и SELECTED не терминальны")
	}
}
