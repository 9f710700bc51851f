package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	proc "github.com/nci/lakeice/processor"
)

var capsURL = "http://%s/%s/capabilities"
var currentURL = "http://%s/%s/current"
var currentPNGURL = "http://%s/%s/current.png"
var layerURL = "http://%s/%s/ice/%d/%s"
var passed = "Passed"
var failed = "Failed"

// Probe GETs url and checks the status and content type of the reply.
func Probe(url, contentType string) bool {
	resp, err := http.Get(url)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != 200 {
		log.Printf("%s: status %d", url, resp.StatusCode)
		return false
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, contentType) {
		log.Printf("%s: content type %q", url, ct)
		return false
	}
	return true
}

// Layers requests the summary and the image of every year and mode,
// concLevel requests at a time.
func Layers(host, lake string, years []int, concLevel int) (bool, time.Duration) {
	start := time.Now()
	var mu sync.Mutex
	out := true

	conc := proc.NewConcLimiter(concLevel)
	for _, year := range years {
		for _, mode := range []proc.Mode{proc.IceOn, proc.IceOff} {
			base := fmt.Sprintf(layerURL, host, lake, year, mode)
			for _, req := range [][2]string{{base, "application/json"}, {base + ".png", "image/png"}} {
				conc.Increase()
				go func(url, contentType string) {
					defer conc.Decrease()
					if !Probe(url, contentType) {
						mu.Lock()
						out = false
						mu.Unlock()
					}
				}(req[0], req[1])
			}
		}
	}
	conc.Wait()

	return out, time.Since(start)
}

// URLList requests every url of a file, one per line, formatted with host.
func URLList(host, urlList string, concLevel int) (bool, time.Duration) {
	start := time.Now()
	f, err := os.Open(urlList)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	var mu sync.Mutex
	out := true
	conc := proc.NewConcLimiter(concLevel)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		conc.Increase()
		go func(url string) {
			defer conc.Decrease()
			resp, err := http.Get(fmt.Sprintf(url, host))
			if err != nil {
				log.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != 200 {
				mu.Lock()
				out = false
				mu.Unlock()
			}
		}(line)
	}
	conc.Wait()

	return out, time.Since(start)
}

func parseYears(s string) []int {
	var years []int
	for _, part := range strings.Split(s, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			log.Fatalf("invalid year %q", part)
		}
		years = append(years, y)
	}
	return years
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func check(name string, ok bool, t ...time.Duration) {
	fmt.Printf("Testing %s: ", name)
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	if len(t) > 0 {
		fmt.Println(passed, t[0])
		return
	}
	fmt.Println(passed)
}

func main() {
	host := flag.String("h", "localhost:8080", "icewatch host name or address")
	lake := flag.String("l", "cayuga", "lake namespace")
	suite := flag.String("s", "layers", "Test suite [caps, current, layers, urls]")
	years := flag.String("y", "2018,2019,2020", "comma separated analysis years")
	urls := flag.String("u", "acpt_url.tpl", "url list of the urls suite")
	conc := flag.Int("n", 4, "Concurrency level for acceptance tests")
	flag.Parse()

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	switch *suite {
	case "caps":
		check("capabilities", Probe(fmt.Sprintf(capsURL, *host, *lake), "application/xml"))
	case "current":
		check("current conditions", Probe(fmt.Sprintf(currentURL, *host, *lake), "application/json"))
		check("current conditions image", Probe(fmt.Sprintf(currentPNGURL, *host, *lake), "image/png"))
	case "layers":
		check("capabilities", Probe(fmt.Sprintf(capsURL, *host, *lake), "application/xml"))
		ok, t := Layers(*host, *lake, parseYears(*years), *conc)
		check("ice event layers", ok, t)
	case "urls":
		ok, t := URLList(*host, *urls, *conc)
		check("url list", ok, t)
	default:
		log.Fatalf("unknown suite %q", *suite)
	}
}
