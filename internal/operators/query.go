package operators

import (
	"context"
	"fmt"
	"strings"

	"saasloader/internal/domain"
)

// ── Warehouse queries stored in S3 ─────────────────────────

// s3Query locates a SQL file and the connections needed to run it.
type s3Query struct {
	AWSConnID string `yaml:"aws_conn_id"`
	Bucket    string `yaml:"query_s3_bucket"`
	Key       string `yaml:"query_s3_key"`
}

func (q s3Query) validate() error {
	return required("query_s3_bucket", q.Bucket, "query_s3_key", q.Key)
}

// read downloads the SQL text.
func (q s3Query) read(ctx context.Context, env *Env) (string, error) {
	store, err := env.Resources.ObjectStore(ctx, q.AWSConnID)
	if err != nil {
		return "", fmt.Errorf("open object store %s: %w", q.AWSConnID, err)
	}
	body, err := store.ReadKey(ctx, q.Bucket, q.Key)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// queryMaps runs query against the warehouse and returns each row keyed by
// column name.
func queryMaps(ctx context.Context, env *Env, connID, query string, params map[string]any) ([]string, []map[string]any, error) {
	wh, err := env.Resources.Warehouse(ctx, connID)
	if err != nil {
		return nil, nil, fmt.Errorf("open warehouse %s: %w", connID, err)
	}
	bound, args, err := bindNamed(query, wh.Driver(), params)
	if err != nil {
		return nil, nil, err
	}
	cols, rows, err := wh.QueryRows(ctx, bound, args...)
	if err != nil {
		return nil, nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(cols))
		for j, c := range cols {
			m[c] = row[j]
		}
		out[i] = m
	}
	return cols, out, nil
}

// bindNamed rewrites :name parameters into the driver's placeholders and
// returns the matching arguments. Quoted text, comments and "::" casts are
// left alone. A name with no value in params is an error.
func bindNamed(query string, driver domain.DatabaseDriver, params map[string]any) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	n := len(query)
	for i := 0; i < n; i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			for j < n {
				if query[j] == c {
					if j+1 < n && query[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= n {
				j = n - 1
			}
			b.WriteString(query[i : j+1])
			i = j
		case c == '-' && i+1 < n && query[i+1] == '-':
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = n - i - 1
			}
			b.WriteString(query[i : i+j+1])
			i += j
		case c == ':' && i+1 < n && query[i+1] == ':':
			b.WriteString("::")
			i++
		case c == ':' && i+1 < n && isIdentStart(query[i+1]):
			j := i + 1
			for j < n && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("sql parameter :%s has no value", name)
			}
			args = append(args, v)
			b.WriteString(driver.Placeholder(len(args)))
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), args, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
