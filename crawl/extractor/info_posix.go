package extractor

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	goeval "github.com/edisonguo/govaluate"
)

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	info := &PosixInfo{FilePath: filePath, Size: fStat.Size(), MTime: fStat.ModTime().UTC()}
	stat, ok := fStat.Sys().(*syscall.Stat_t)
	if !ok {
		info.ID = fmt.Sprintf("%x", md5.Sum([]byte(fmt.Sprintf("%s%d%d", filePath, info.Size, info.MTime.UnixNano()))))
		return info
	}
	fileSignature := fmt.Sprintf("%s%d%d%d%d", filePath, stat.Ino, stat.Size, stat.Mtim.Sec, stat.Mtim.Nsec)
	info.INode = stat.Ino
	info.CTime = time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)).UTC()
	info.ID = fmt.Sprintf("%x", md5.Sum([]byte(fileSignature)))
	return info
}

// ParsePatternExpression compiles a crawl filter over the variables
// "path" and "type" ("d" for directories, "f" for files).
func ParsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

const DefaultMaxPosixErrors = 1000

// PosixCrawler walks a directory tree on a bounded number of goroutines
// and emits every scene sidecar (*.yaml, *.yml) it finds.
type PosixCrawler struct {
	Outputs       chan *SceneFile
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *PosixCrawler {
	if conc <= 0 {
		conc = 1
	}
	return &PosixCrawler{
		Outputs:       make(chan *SceneFile, 4096),
		Error:         make(chan error, DefaultMaxPosixErrors),
		concLimit:     make(chan struct{}, conc),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// Crawl walks rootDir, closing Outputs when done. Errors met on the way
// are collected and returned together.
func (pc *PosixCrawler) Crawl(rootDir string) error {
	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(rootDir, false)
	pc.wg.Wait()

	close(pc.Outputs)
	close(pc.Error)
	var errors []string
	for err := range pc.Error {
		errors = append(errors, err.Error())
	}
	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (pc *PosixCrawler) sendError(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.sendError(fmt.Errorf("Could not read dir: %v", err))
		return
	}

	for _, entry := range entries {
		filePath := filepath.Join(currPath, entry.Name())
		mode := entry.Type()

		if mode&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err := os.Stat(filePath)
			if err != nil {
				pc.sendError(err)
				continue
			}
			mode = fStat.Mode().Type()
		}

		isDir := mode.IsDir()
		if !isDir && !mode.IsRegular() {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.sendError(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(filePath, false)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}

		ext := strings.ToLower(filepath.Ext(filePath))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		md, err := ReadSceneMetadata(filePath)
		if err != nil {
			pc.sendError(err)
			continue
		}
		sf := &SceneFile{Path: filePath, Metadata: md}
		if fStat, err := os.Lstat(filePath); err == nil {
			sf.Posix = GetPosixInfo(filePath, fStat)
		}
		pc.Outputs <- sf
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
