package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на базе zap
//
// Функции:
// - InitLogger: создать логгер из конфигурации (уровень, формат, вывод)
// - InitGlobalLogger / GetGlobalLogger / SetGlobalLogger / L: глобальный логгер
// - With*: дочерние логгеры с предустановленными полями
// - Конструкторы доменных полей: TaskID, Role, OrderID, Price и т.д.

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (stacktrace на warn)
}

// Logger оборачивает zap.Logger вместе с sugar-вариантом
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// parseLevel преобразует строковый уровень в zapcore.Level.
// Неизвестные значения дают info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт логгер из конфигурации.
// Никогда не возвращает nil: при недоступном файле вывода
// откатывается на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			sink = zapcore.AddSync(os.Stderr)
		} else {
			sink = zapcore.AddSync(file)
		}
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер,
// лениво создавая логгер по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает дочерний логгер с добавленными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Sugar возвращает sugar-вариант логгера
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// WithComponent добавляет поле component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(zap.String("component", name))
}

// WithSymbol добавляет поле symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(zap.String("symbol", symbol))
}

// WithTaskID добавляет поле task_id
func (l *Logger) WithTaskID(taskID string) *Logger {
	return l.With(zap.String("task_id", taskID))
}

// WithRole добавляет поле role (нога задачи)
func (l *Logger) WithRole(role string) *Logger {
	return l.With(zap.String("role", role))
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { L().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { L().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { L().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { L().sugar.Errorf(template, args...) }

// fieldsToInterface разворачивает zap-поля в пары key/value
// для передачи в sugar-логгер
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
		if f.Interface == nil {
			result[len(result)-1] = fieldValue(f)
		}
	}
	return result
}

// fieldValue извлекает примитивное значение zap-поля
func fieldValue(f zap.Field) interface{} {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type:
		return f.Integer
	case zapcore.Float64Type, zapcore.Float32Type:
		return f.Integer
	case zapcore.BoolType:
		return f.Integer == 1
	default:
		return f.Interface
	}
}

// ============================================================
// Конструкторы доменных полей
// ============================================================

// TaskID - идентификатор задачи
func TaskID(id string) zap.Field { return zap.String("task_id", id) }

// RoleField - роль ноги
func RoleField(role string) zap.Field { return zap.String("role", role) }

// Symbol - торговый символ
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }

// OrderID - идентификатор ордера
func OrderID(id string) zap.Field { return zap.String("order_id", id) }

// Price - цена
func Price(price float64) zap.Field { return zap.Float64("price", price) }

// Volume - объём
func Volume(volume float64) zap.Field { return zap.Float64("volume", volume) }

// Profit - прибыль/убыток
func Profit(pnl float64) zap.Field { return zap.Float64("profit", pnl) }

// Side - сторона сделки (buy/sell)
func Side(side string) zap.Field { return zap.String("side", side) }

// State - состояние задачи
func State(state string) zap.Field { return zap.String("state", state) }

// Imbalance - дисбаланс хеджа
func Imbalance(value float64) zap.Field { return zap.Float64("imbalance", value) }

// Latency - задержка в миллисекундах
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - идентификатор HTTP-запроса
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Component - имя компонента
func Component(name string) zap.Field { return zap.String("component", name) }

// Version - версия контекста задачи
func Version(v uint64) zap.Field { return zap.Uint64("version", v) }

// ============================================================
// Переэкспорт стандартных конструкторов zap
// ============================================================

func String(key, value string) zap.Field          { return zap.String(key, value) }
func Int(key string, value int) zap.Field         { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field     { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field       { return zap.Bool(key, value) }
func Err(err error) zap.Field                     { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }
