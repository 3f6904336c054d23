package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

var (
	getRegex     = `^get\s+(\S+)(?:\s+(\S+))?$`
	putRegex     = `^put\s+(\S+)(?:\s+(\S+))?$`
	timeoutRegex = `^timeout\s+(\d+)$`
	retriesRegex = `^retries\s+(\d+)$`
	modeRegex    = `^mode\s+(\S+)$`
	connectRegex = `^connect\s+(\S+)(?:\s+(\d+))?$`
	traceRegex   = `^trace$`
	quitRegex    = `^quit$`
	helpRegex    = `^help$`
)

const helpText = `Commands:
	connect <host> [port]
	get <remote file> [local file]
	put <local file> [remote file]
	mode <netascii|octet>
	timeout <seconds>
	retries <integer>
	trace
	quit`

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	out           io.Writer
	regexPatterns map[string]*regexp.Regexp
	line          string
}

func NewEvaluator(l *zap.SugaredLogger, client Connector, out io.Writer) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
		out:    out,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["retries"] = regexp.MustCompile(retriesRegex)
	e.regexPatterns["mode"] = regexp.MustCompile(modeRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

// evaluate runs one command line and reports whether the session is over.
func (e *Evaluator) evaluate(ctx context.Context) (bool, error) {
	e.line = strings.TrimSpace(e.line)

	if e.line == "" {
		return false, nil
	}

	if matches := e.regexPatterns["get"].FindStringSubmatch(e.line); len(matches) == 3 {
		res, err := e.client.Get(ctx, matches[1], matches[2])
		if err != nil {
			return false, err
		}

		fmt.Fprintf(e.out, "Received %d bytes in %s (%s)\n", res.Bytes, res.Duration.Round(time.Millisecond), res.Stats)

		return false, nil
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(e.line); len(matches) == 3 {
		res, err := e.client.Put(ctx, matches[1], matches[2])
		if err != nil {
			return false, err
		}

		fmt.Fprintf(e.out, "Sent %d bytes in %s (%s)\n", res.Bytes, res.Duration.Round(time.Millisecond), res.Stats)

		return false, nil
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil || n == 0 {
			return false, fmt.Errorf("timeout value can not be parsed: %s", matches[1])
		}

		e.client.SetTimeout(time.Duration(n) * time.Second)

		return false, nil
	}

	if matches := e.regexPatterns["retries"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.Atoi(matches[1])
		if err != nil || n == 0 {
			return false, fmt.Errorf("retries value can not be parsed: %s", matches[1])
		}

		e.client.SetNumTries(n)

		return false, nil
	}

	if matches := e.regexPatterns["mode"].FindStringSubmatch(e.line); len(matches) == 2 {
		mode, err := types.ParseMode(matches[1])
		if err != nil {
			return false, err
		}

		return false, e.client.SetMode(mode)
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(e.line); len(matches) == 3 {
		port := matches[2]
		if port == "" {
			port = types.DefaultPort
		}

		return false, e.client.Connect(net.JoinHostPort(matches[1], port))
	}

	if matches := e.regexPatterns["trace"].FindStringSubmatch(e.line); len(matches) == 1 {
		if e.client.SetTrace() {
			fmt.Fprintln(e.out, "Packet tracing on.")
		} else {
			fmt.Fprintln(e.out, "Packet tracing off.")
		}

		return false, nil
	}

	if matches := e.regexPatterns["help"].FindStringSubmatch(e.line); len(matches) == 1 {
		fmt.Fprintln(e.out, helpText)

		return false, nil
	}

	if matches := e.regexPatterns["quit"].FindStringSubmatch(e.line); len(matches) == 1 {
		return true, nil
	}

	return false, fmt.Errorf("unknown command or arguments: %s", e.line)
}
