package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Safe выполняет fn и перехватывает панику: упавший обработчик пишется
// в лог со стеком, процесс продолжает работу.
// Возвращает true, если паника была.
func Safe(component string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			log.WithFields(log.Fields{
				"component": component,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			}).Error("ПАНИКА в обработчике, восстановлено")
		}
	}()

	fn()
	return false
}
