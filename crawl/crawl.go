package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
	extr "github.com/nci/lakeice/crawl/extractor"
	"github.com/nci/lakeice/utils"
)

var (
	rootDir       = flag.String("root", ".", "directory to crawl for scene sidecars")
	conc          = flag.Int("conc", 8, "number of concurrent directory walkers")
	pattern       = flag.String("pattern", "", "filter expression over 'path' and 'type', e.g. type == 'd' || path =~ '.*S1.*'")
	collection    = flag.String("collection", "s1_grd", "catalogue collection of the crawled scenes")
	driver        = flag.String("driver", "", "catalogue database driver: postgres or sqlite. Empty prints JSON lines")
	dsn           = flag.String("dsn", "", "catalogue database connection string")
	batchSize     = flag.Int("batch", 500, "scenes per insert transaction")
	followSymlink = flag.Bool("follow_symlink", false, "follow symbolic links")
	verbose       = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Parse()

	log, err := utils.InitLogger(*verbose)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	absRootDir, err := filepath.Abs(*rootDir)
	if err != nil {
		log.Fatal(err)
	}

	expr, err := extr.ParsePatternExpression(*pattern)
	if err != nil {
		log.Fatalf("invalid pattern: %v", err)
	}

	var store *catalog.Store
	if *driver != "" {
		store, err = catalog.Open(context.Background(), *driver, *dsn, log)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
	}

	crawler := extr.NewPosixCrawler(*conc, expr, *followSymlink)
	done := make(chan int)
	go func() {
		done <- consume(crawler.Outputs, store, log)
	}()

	if err := crawler.Crawl(absRootDir); err != nil {
		log.Warnf("crawl finished with errors:\n%v", err)
	}
	n := <-done
	log.Infow("crawl done", "root", absRootDir, "scenes", n)
}

// consume writes crawled scenes to the store, or to stdout as JSON lines
// when there is no store.
func consume(files chan *extr.SceneFile, store *catalog.Store, log *zap.SugaredLogger) int {
	enc := json.NewEncoder(os.Stdout)
	var batch []catalog.Scene
	n := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := store.Insert(context.Background(), batch...); err != nil {
			log.Errorf("insert failed: %v", err)
		}
		batch = batch[:0]
	}

	for sf := range files {
		n++
		scene := sf.Metadata.Scene(*collection, sf.Path)
		if store == nil {
			if err := enc.Encode(&scene); err != nil {
				log.Errorf("encoding %s: %v", sf.Path, err)
			}
			continue
		}
		batch = append(batch, scene)
		if len(batch) >= *batchSize {
			flush()
		}
	}
	if store != nil {
		flush()
	}
	return n
}
