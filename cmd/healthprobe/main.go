// healthprobe is a tiny sidecar that answers load-balancer health checks
// without touching the chat server's request path. It reports healthy only
// when the upstream /readyz answers 200 within the probe timeout.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8091", "listen address for the health sidecar")
	upstream := flag.String("upstream", "http://127.0.0.1:8090", "chat server origin to probe")
	ver := flag.String("version", "dev", "version string to return")
	timeout := flag.Duration("timeout", 2*time.Second, "upstream probe timeout")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			status, _, err := client.GetTimeout(nil, *upstream+"/readyz", *timeout)
			if err != nil || status != fasthttp.StatusOK {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(`{"status":"upstream unavailable"}`)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver))
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health sidecar listening on %s, probing %s\n", *addr, *upstream)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "supportchat-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
