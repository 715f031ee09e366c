package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// Phuslu logs through the phuslu-style oarkflow/log package.
type Phuslu struct{}

func NewPhuslu() *Phuslu { return &Phuslu{} }

func (p *Phuslu) Debug(msg string, keyvals ...any) { emit(phlog.Debug(), msg, keyvals) }
func (p *Phuslu) Info(msg string, keyvals ...any)  { emit(phlog.Info(), msg, keyvals) }
func (p *Phuslu) Warn(msg string, keyvals ...any)  { emit(phlog.Warn(), msg, keyvals) }
func (p *Phuslu) Error(msg string, keyvals ...any) { emit(phlog.Error(), msg, keyvals) }

func emit(b *phlog.Entry, msg string, keyvals []any) {
	for i := 0; i < len(keyvals)-1; i += 2 {
		ks := fmt.Sprint(keyvals[i])
		switch vv := keyvals[i+1].(type) {
		case string:
			b = b.Str(ks, vv)
		case bool:
			b = b.Bool(ks, vv)
		case int:
			b = b.Int(ks, vv)
		case float64:
			b = b.Float64(ks, vv)
		default:
			b = b.Any(ks, vv)
		}
	}
	b.Msg(msg)
}
