// Catalogue API
//
// Serves scene searches over the catalogue database:
//
//	GET /{collection}?intersects&time=...&until=...&bbox=minx,miny,maxx,maxy[&wkt=...][&filter=...][&limit=n]
//
// Responses are cached in memcache keyed on the request URI.

package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nci/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
	"github.com/nci/lakeice/utils"
)

var (
	dbDriver = flag.String("driver", "postgres", "catalogue database driver: postgres or sqlite")
	dbName   = flag.String("database", "mas", "database name")
	dbUser   = flag.String("user", "api", "database user name")
	dbDSN    = flag.String("dsn", "", "database connection string, overrides -database and -user")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8080, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	verbose  = flag.Bool("v", false, "verbose logging")
)

type apiHandler struct {
	catalogue catalog.Catalogue
	mc        *memcache.Client
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	json.NewEncoder(response).Encode(catalog.SearchResponse{Error: err.Error()})
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{catalog.ISOFormat, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// parseQuery reads the search parameters of an intersects request.
func parseQuery(collection string, request *http.Request) (catalog.Query, error) {
	q := catalog.Query{Collection: collection}
	if collection == "" {
		return q, errors.New("missing collection")
	}

	var err error
	if q.Start, err = parseTime(request.FormValue("time")); err != nil {
		return q, err
	}
	if q.End, err = parseTime(request.FormValue("until")); err != nil {
		return q, err
	}
	if !q.Start.Before(q.End) {
		return q, fmt.Errorf("time must precede until")
	}

	q.WKT = request.FormValue("wkt")
	switch bbox := request.FormValue("bbox"); {
	case bbox != "":
		if q.BBox, err = catalog.ParseBBox(bbox); err != nil {
			return q, err
		}
	case q.WKT != "":
		if q.BBox, err = catalog.WKT2BBox(q.WKT); err != nil {
			return q, err
		}
	default:
		return q, errors.New("either bbox or wkt is required")
	}

	q.Predicate = request.FormValue("filter")
	if limit := request.FormValue("limit"); limit != "" {
		if q.Limit, err = strconv.Atoi(limit); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("invalid limit %q", limit)
		}
	}
	return q, nil
}

func (h *apiHandler) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")

	var hash string
	if h.mc != nil {
		buff := md5.Sum([]byte(request.URL.RequestURI()))
		hash = hex.EncodeToString(buff[:])

		if cached, err := h.mc.Get(hash); err == nil {
			response.Write(cached.Value)
			return
		}
	}

	if _, ok := request.URL.Query()["intersects"]; !ok {
		httpJSONError(response, errors.New("unknown operation; currently supported: ?intersects"), http.StatusBadRequest)
		return
	}

	collection := strings.Trim(request.URL.Path, "/")
	q, err := parseQuery(collection, request)
	if err != nil {
		httpJSONError(response, err, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(request.Context(), h.timeout)
	defer cancel()
	t0 := time.Now()
	scenes, err := h.catalogue.Search(ctx, q)
	if err != nil {
		h.log.Warnw("search failed", "uri", request.URL.RequestURI(), "error", err)
		httpJSONError(response, err, http.StatusBadRequest)
		return
	}
	if scenes == nil {
		scenes = []catalog.Scene{}
	}

	payload, err := json.Marshal(catalog.SearchResponse{Scenes: scenes})
	if err != nil {
		httpJSONError(response, err, http.StatusInternalServerError)
		return
	}
	response.Write(payload)
	h.log.Debugw("search", "collection", collection, "scenes", len(scenes), "duration", time.Since(t0))

	if h.mc != nil {
		// don't care about errors; memcache may not necessarily retain this anyway
		h.mc.Set(&memcache.Item{Key: hash, Value: payload})
	}
}

func main() {
	flag.Parse()

	log, err := utils.InitLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	dsn := *dbDSN
	if dsn == "" {
		dsn = fmt.Sprintf("user=%s host=/var/run/postgresql dbname=%s sslmode=disable", *dbUser, *dbName)
	}
	log.Infow("starting catalogue API", "driver", *dbDriver, "pool", *dbPool, "port", *httpPort)

	store, err := catalog.Open(context.Background(), *dbDriver, dsn, log)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if *dbDriver == "postgres" {
		store.DB.SetMaxIdleConns(*dbPool)
		store.DB.SetMaxOpenConns(*dbLimit)
	}

	h := &apiHandler{catalogue: store, timeout: 60 * time.Second, log: log}
	if *mcURI != "" {
		// lazy connection; errors returned in .Get
		h.mc = memcache.New(*mcURI)
	}

	http.Handle("/", h)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), nil))
}
