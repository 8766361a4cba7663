package securelog

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
)

// Error logs an error without including user-provided data: only the
// caller location, the operation name, and the error type chain.
func Error(op string, err error) {
	if err == nil {
		return
	}
	chain := strings.Join(typeChain(err), "->")
	if op == "" {
		log.Printf("error at %s types=%s", caller(2), chain)
		return
	}
	log.Printf("error at %s op=%s types=%s", caller(2), op, chain)
}

// Info logs a lifecycle event. Callers must not pass user data.
func Info(op, msg string) {
	log.Printf("%s: %s", op, msg)
}

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func typeChain(err error) []string {
	var chain []string
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			chain = append(chain, name)
		}
		err = errors.Unwrap(err)
	}
	return chain
}
