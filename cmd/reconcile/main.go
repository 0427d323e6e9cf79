// Команда reconcile выполняет сверку заказов, отгрузок и трекинга из CSV-файлов.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode: 2: фид не соответствует схеме, 1, любая другая ошибка.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrSchema):
		return 2
	default:
		return 1
	}
}
