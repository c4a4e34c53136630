// Команда storectl - консоль администратора магазина: выпуск токенов,
// смена статуса заказа, поиск заказа и чтение событий из Kafka.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
