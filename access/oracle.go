package access

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/cdx"
)

// OracleFilter builds a predicate that asks an external access oracle
// whether each capture may be shown. Only an explicit "allow" decision
// admits the capture. Any transport or decoding failure is returned as
// an error, so a broken oracle hides records rather than leaking them.
func OracleFilter(oracleURL string) cdx.Predicate {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(c *cdx.Capture) (bool, error) {
		q := url.Values{}
		q.Set("url", c.Original)
		q.Set("timestamp", strconv.FormatInt(c.Timestamp, 10))
		resp, err := client.Get(oracleURL + "?" + q.Encode())
		if err != nil {
			return false, errors.Wrap(err, "access: query oracle")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, errors.Errorf("access: oracle returned %s", resp.Status)
		}
		v, err := jason.NewObjectFromReader(resp.Body)
		if err != nil {
			return false, errors.Wrap(err, "access: decode oracle response")
		}
		decision, err := v.GetString("decision")
		if err != nil {
			return false, errors.Wrap(err, "access: oracle response missing decision")
		}
		return decision == "allow", nil
	}
}
