package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// force timestamps into the counties' own timezone; the servers this runs
// on can end up in any region, which would skew anything derived from
// <time.Time>.Year()/Month()/Day()/Hour()/...
func Now() time.Time {
	return time.Now().In(Location)
}
