package operators

import (
	"context"
	"fmt"
	"time"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/gotowebinar"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/oauth"
)

// ── GoToWebinar → warehouse ────────────────────────────────

var (
	g2wWebinarColumns    = []string{"webinarkey", "starttime", "endtime", "webinarid", "subject"}
	g2wSessionColumns    = []string{"sessionkey", "webinarkey", "webinarid", "starttime", "endtime", "registrantsattended"}
	g2wRegistrantColumns = []string{"firstname", "email", "lastname", "registrantkey", "registrationdate", "status", "joinurl", "timezone", "webinarkey"}
	g2wAttendeeColumns   = []string{"registrantkey", "sessionkey", "firstname", "lastname", "email", "attendancetime", "jointime", "leavetime"}
)

const isoUTC = "2006-01-02T15:04:05Z"

type gotowebinarParams struct {
	GoToWebinarConnID string        `yaml:"gotowebinar_conn_id"`
	WarehouseConnID   string        `yaml:"warehouse_conn_id"`
	From              string        `yaml:"from_time"`
	To                string        `yaml:"to_time"`
	Lookback          time.Duration `yaml:"lookback"`
	Schema            string        `yaml:"schema"`
	CredentialTable   string        `yaml:"credential_table"`
}

type gotowebinarToWarehouse struct{ p gotowebinarParams }

func init() {
	define("gotowebinar_to_warehouse",
		"Refresh GoToWebinar credentials and merge webinars, sessions, registrants and attendees",
		gotowebinarParams{
			GoToWebinarConnID: "gotowebinar_default",
			WarehouseConnID:   "redshift_default",
			Lookback:          24 * time.Hour,
			Schema:            "gotowebinar",
			CredentialTable:   "gotowebinar.oauth_credentials",
		},
		func(p *gotowebinarParams) (Operator, error) {
			if err := required("credential_table", p.CredentialTable); err != nil {
				return nil, err
			}
			return &gotowebinarToWarehouse{p: *p}, nil
		})
}

// window returns the [from, to] range, defaulting to the lookback period
// ending now.
func (o *gotowebinarToWarehouse) window(now time.Time) (string, string) {
	from, to := o.p.From, o.p.To
	if to == "" {
		to = now.UTC().Format(isoUTC)
	}
	if from == "" {
		from = now.UTC().Add(-o.p.Lookback).Format(isoUTC)
	}
	return from, to
}

func (o *gotowebinarToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	conn, err := env.connection(o.p.GoToWebinarConnID)
	if err != nil {
		return nil, err
	}
	client, err := gotowebinar.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	wh, err := env.Resources.Warehouse(ctx, o.p.WarehouseConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.WarehouseConnID, err)
	}

	creds := &oauth.CredentialTable{
		DB:        wh.DB(),
		Driver:    wh.Driver(),
		Table:     o.p.CredentialTable,
		KeyColumn: "organizer_key",
		Now:       env.Now,
	}
	tok, err := oauth.Refresh(ctx, creds, client.Refresher(), client.OrgKey, gotowebinar.CredentialColumns)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(tok.AccessToken)

	from, to := o.window(env.now())
	webinars, err := client.GetWebinars(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var webinarRows, sessionRows, registrantRows, attendeeRows []map[string]any
	for _, w := range webinars {
		times := firstMap(w["times"])
		key := httpx.String(w["webinarKey"])
		webinarRows = append(webinarRows, map[string]any{
			"webinarkey": w["webinarKey"],
			"starttime":  times["startTime"],
			"endtime":    times["endTime"],
			"webinarid":  w["webinarId"],
			"subject":    w["subject"],
		})

		sessions, err := client.GetSessions(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			sessionRows = append(sessionRows, map[string]any{
				"sessionkey":          s["sessionKey"],
				"webinarkey":          s["webinarKey"],
				"webinarid":           s["webinarID"],
				"starttime":           s["startTime"],
				"endtime":             s["endTime"],
				"registrantsattended": s["registrantsAttended"],
			})
		}

		registrants, err := client.GetRegistrants(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, r := range registrants {
			registrantRows = append(registrantRows, map[string]any{
				"firstname":        r["firstName"],
				"email":            r["email"],
				"lastname":         r["lastName"],
				"registrantkey":    r["registrantKey"],
				"registrationdate": r["registrationDate"],
				"status":           r["status"],
				"joinurl":          r["joinUrl"],
				"timezone":         r["timeZone"],
				"webinarkey":       w["webinarKey"],
			})
		}

		for _, s := range sessions {
			attendees, err := client.GetAttendees(ctx, key, httpx.String(s["sessionKey"]))
			if err != nil {
				return nil, err
			}
			for _, item := range attendees {
				a, ok := item.(map[string]any)
				if !ok {
					log.Error("skipping malformed attendee", "webinar", key, "record", item)
					continue
				}
				attendance := firstMap(a["attendance"])
				attendeeRows = append(attendeeRows, map[string]any{
					"registrantkey":  a["registrantKey"],
					"sessionkey":     a["sessionKey"],
					"firstname":      a["firstName"],
					"lastname":       a["lastName"],
					"email":          a["email"],
					"attendancetime": a["attendanceTimeInSeconds"],
					"jointime":       attendance["joinTime"],
					"leavetime":      attendance["leaveTime"],
				})
			}
		}
	}

	res := &Result{RowsRead: len(webinarRows) + len(sessionRows) + len(registrantRows) + len(attendeeRows)}
	loads := []struct {
		table   string
		key     string
		columns []string
		rows    []map[string]any
	}{
		{"webinar", "webinarkey", g2wWebinarColumns, webinarRows},
		{"session", "sessionkey", g2wSessionColumns, sessionRows},
		{"registrant", "registrantkey", g2wRegistrantColumns, registrantRows},
		{"attendee", "registrantkey", g2wAttendeeColumns, attendeeRows},
	}
	for _, l := range loads {
		target := mergeTarget(qualify(o.p.Schema, l.table), l.key)
		if err := env.upsert(ctx, o.p.WarehouseConnID, etl.UncappedLiterals, target, etl.BatchFromMaps(l.columns, l.rows), res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// firstMap returns the first element of a JSON array when it is an object.
func firstMap(v any) map[string]any {
	list, _ := v.([]any)
	if len(list) == 0 {
		return map[string]any{}
	}
	return httpx.Map(list[0])
}
