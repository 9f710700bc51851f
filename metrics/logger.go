package metrics

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Log(info *MetricsInfo)
}

type StdoutLogger struct {
	log *zap.SugaredLogger
}

func NewStdoutLogger(log *zap.SugaredLogger) *StdoutLogger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &StdoutLogger{log: log.Named("metrics")}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		l.log.Info(infoStr)
	} else {
		l.log.Errorf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSizeMB = 1024
const defaultMaxLogFiles = 10

// FileLogger writes metrics documents as JSON lines from a queue. Each
// writer owns a log file rotated by size.
type FileLogger struct {
	MetricsQueue chan *MetricsInfo
	LogDir       string
	writers      []*lumberjack.Logger
	wg           sync.WaitGroup
	log          *zap.SugaredLogger
}

func NewFileLogger(logDir string, maxLogFileSizeMB int, maxLogFiles int, log *zap.SugaredLogger) *FileLogger {
	if maxLogFileSizeMB <= 0 {
		maxLogFileSizeMB = defaultMaxLogFileSizeMB
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	logger := &FileLogger{
		MetricsQueue: make(chan *MetricsInfo, defaultQueueSize),
		LogDir:       logDir,
		log:          log,
	}

	for i := 0; i < defaultLogWriters; i++ {
		w := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, fmt.Sprintf("log%d", i)),
			MaxSize:    maxLogFileSizeMB,
			MaxBackups: maxLogFiles,
		}
		logger.writers = append(logger.writers, w)
		logger.wg.Add(1)
		go logger.startLogWriter(i, w)
	}

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close flushes the queue and closes the log files.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int, w *lumberjack.Logger) {
	defer l.wg.Done()
	defer w.Close()
	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.log.Errorf("FileLogger%d: info.ToJSON() error: %v", idx, err)
			continue
		}
		if _, err := w.Write([]byte(infoStr)); err != nil {
			l.log.Errorf("FileLogger%d: write error: %v", idx, err)
		}
	}
}
