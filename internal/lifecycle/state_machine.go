package lifecycle

import (
	"errors"
	"fmt"

	"statarbitrage/internal/models"
)

var ErrInvalidTransition = errors.New("недопустимый переход статуса")

// ValidTransitions описывает граф жизненного цикла пары.
// TRADING -> TRADING — самопереход при усреднении.
// Кандидат SELECTED, не прошедший повторную проверку, не переходит
// никуда — он удаляется.
var ValidTransitions = map[string][]string{
	models.PairStatusSelected: {
		models.PairStatusTrading,
		models.PairStatusObserved,
		models.PairStatusError,
	},
	models.PairStatusObserved: {
		models.PairStatusSelected,
		models.PairStatusClosed,
	},
	models.PairStatusTrading: {
		models.PairStatusTrading,
		models.PairStatusClosed,
		models.PairStatusError,
	},
	// CLOSED и ERROR терминальны
	models.PairStatusClosed: {},
	models.PairStatusError:  {},
}

// CanTransition проверяет допустимость перехода from -> to.
func CanTransition(from, to string) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition переводит пару в новый статус или возвращает ошибку.
func Transition(p *models.Pair, to string) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, p.Status, to, p.PairName)
	}
	p.Status = to
	return nil
}

// IsTerminal сообщает, терминален ли статус.
func IsTerminal(status string) bool {
	return len(ValidTransitions[status]) == 0
}
