// Command h2get is a tiny command-line client over h2mux, mirroring the
// teacher's examples/client and examples/autocert programs: dial one origin,
// issue one request, print the response.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/relaycore/h2mux"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

func main() {
	var (
		method      = flag.String("method", "GET", "HTTP method")
		body        = flag.String("body", "", "request body")
		insecure    = flag.Bool("insecure", false, "skip TLS certificate verification")
		timeout     = flag.Duration("timeout", 15*time.Second, "request timeout")
		autocertDir = flag.String("autocert-cache", "", "if set, build the TLS config from an autocert.Manager using this cache dir (the server certificate is still verified against the system trust store unless -insecure)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: h2get [flags] https://host/path")
		os.Exit(2)
	}

	target, err := url.Parse(flag.Arg(0))
	if err != nil {
		log.Fatalf("h2get: bad URL: %v", err)
	}
	if target.Scheme != "https" {
		log.Fatalf("h2get: only https:// targets are supported (prior-knowledge h2c is out of scope)")
	}

	addr := target.Host
	if target.Port() == "" {
		addr += ":443"
	}

	tlsConfig := &tls.Config{
		ServerName:         target.Hostname(),
		InsecureSkipVerify: *insecure,
		NextProtos:         []string{"h2", acme.ALPNProto},
	}
	if *autocertDir != "" {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(target.Hostname()),
			Cache:      autocert.DirCache(*autocertDir),
		}
		base := tlsConfig.Clone()
		tlsConfig = m.TLSConfig()
		tlsConfig.ServerName = base.ServerName
		tlsConfig.InsecureSkipVerify = base.InsecureSkipVerify
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := h2mux.Dial(ctx, "tcp", addr, tlsConfig)
	if err != nil {
		log.Fatalf("h2get: dial %s: %v", addr, err)
	}
	defer conn.Dispose()

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(*method)
	req.SetRequestURI(target.String())
	if *body != "" {
		req.SetBodyString(*body)
	}

	if err := h2mux.Do(ctx, conn, req, res); err != nil {
		log.Fatalf("h2get: request failed: %v", err)
	}

	fmt.Printf("%d\n", res.StatusCode())
	res.Header.VisitAll(func(k, v []byte) {
		fmt.Printf("%s: %s\n", k, v)
	})
	fmt.Println()
	os.Stdout.Write(res.Body())
	fmt.Println()

	if last, min := conn.RTT(); last > 0 {
		fmt.Fprintf(os.Stderr, "rtt: last=%s min=%s\n", last, min)
	}
}
