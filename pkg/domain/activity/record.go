package activity

import "time"

// MetaAthlete identifies the activity owner.
type MetaAthlete struct {
	ID            int64 `json:"id"`
	ResourceState int   `json:"resource_state"`
}

// MetaActivity identifies a parent activity.
type MetaActivity struct {
	ID            int64 `json:"id"`
	ResourceState int   `json:"resource_state"`
}

// PolylineMap is the encoded route.
type PolylineMap struct {
	ID              string `json:"id"`
	Polyline        string `json:"polyline,omitempty"`
	ResourceState   int    `json:"resource_state"`
	SummaryPolyline string `json:"summary_polyline"`
}

// SummaryGear is the bike or shoe used.
type SummaryGear struct {
	ID            string  `json:"id"`
	Primary       bool    `json:"primary"`
	Name          string  `json:"name"`
	ResourceState int     `json:"resource_state"`
	Distance      float64 `json:"distance"`
}

// PhotosSummaryPrimary is the cover photo.
type PhotosSummaryPrimary struct {
	ID        *int64            `json:"id,omitempty"`
	MediaType *int              `json:"media_type,omitempty"`
	Source    int               `json:"source"`
	UniqueID  string            `json:"unique_id"`
	URLs      map[string]string `json:"urls,omitempty"`
}

// PhotosSummary counts attached photos.
type PhotosSummary struct {
	Primary *PhotosSummaryPrimary `json:"primary,omitempty"`
	Count   int                   `json:"count"`
}

// SummarySegment is a segment referenced by an effort.
type SummarySegment struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ActivityType  string    `json:"activity_type"`
	Distance      float64   `json:"distance"`
	AverageGrade  float64   `json:"average_grade"`
	MaximumGrade  float64   `json:"maximum_grade"`
	ElevationHigh float64   `json:"elevation_high"`
	ElevationLow  float64   `json:"elevation_low"`
	StartLatLng   []float64 `json:"start_latlng"`
	EndLatLng     []float64 `json:"end_latlng"`
	ClimbCategory int       `json:"climb_category"`
	City          string    `json:"city,omitempty"`
	State         string    `json:"state,omitempty"`
	Country       string    `json:"country,omitempty"`
	Private       bool      `json:"private"`
	Hazardous     bool      `json:"hazardous"`
	Starred       bool      `json:"starred"`
}

// SegmentEffort is one timed pass over a segment or a best effort.
type SegmentEffort struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Activity       MetaActivity    `json:"activity"`
	Athlete        MetaAthlete     `json:"athlete"`
	ElapsedTime    int             `json:"elapsed_time"`
	MovingTime     int             `json:"moving_time"`
	StartDate      time.Time       `json:"start_date"`
	StartDateLocal time.Time       `json:"start_date_local"`
	Distance       float64         `json:"distance"`
	StartIndex     int             `json:"start_index"`
	EndIndex       int             `json:"end_index"`
	AverageCadence *float64        `json:"average_cadence,omitempty"`
	DeviceWatts    *bool           `json:"device_watts,omitempty"`
	AverageWatts   *float64        `json:"average_watts,omitempty"`
	Segment        *SummarySegment `json:"segment,omitempty"`
	KOMRank        *int            `json:"kom_rank,omitempty"`
	PRRank         *int            `json:"pr_rank,omitempty"`
	Hidden         *bool           `json:"hidden,omitempty"`
}

// Split is a per-kilometre or per-mile split.
type Split struct {
	Distance            float64  `json:"distance"`
	ElapsedTime         int      `json:"elapsed_time"`
	ElevationDifference *float64 `json:"elevation_difference,omitempty"`
	MovingTime          int      `json:"moving_time"`
	Split               int      `json:"split"`
	AverageSpeed        float64  `json:"average_speed"`
	PaceZone            int      `json:"pace_zone"`
}

// Lap is a device recorded lap.
type Lap struct {
	ID                 int64        `json:"id"`
	Name               string       `json:"name"`
	Activity           MetaActivity `json:"activity"`
	Athlete            MetaAthlete  `json:"athlete"`
	ElapsedTime        int          `json:"elapsed_time"`
	MovingTime         int          `json:"moving_time"`
	StartDate          time.Time    `json:"start_date"`
	StartDateLocal     time.Time    `json:"start_date_local"`
	Distance           float64      `json:"distance"`
	StartIndex         int          `json:"start_index"`
	EndIndex           int          `json:"end_index"`
	TotalElevationGain *float64     `json:"total_elevation_gain,omitempty"`
	AverageSpeed       float64      `json:"average_speed"`
	MaxSpeed           float64      `json:"max_speed"`
	AverageCadence     *float64     `json:"average_cadence,omitempty"`
	DeviceWatts        *bool        `json:"device_watts,omitempty"`
	AverageWatts       *float64     `json:"average_watts,omitempty"`
	LapIndex           int          `json:"lap_index"`
	Split              int          `json:"split"`
}

// StatsVisibility is a per-stat privacy setting.
type StatsVisibility struct {
	Type       string `json:"type"`
	Visibility string `json:"visibility"`
}

// Record is the detailed activity snapshot written to the warehouse.
type Record struct {
	ID                   int64             `json:"id"`
	ExternalID           *string           `json:"external_id,omitempty"`
	UploadID             *int64            `json:"upload_id,omitempty"`
	UploadIDStr          *string           `json:"upload_id_str,omitempty"`
	Athlete              MetaAthlete       `json:"athlete"`
	Name                 string            `json:"name"`
	Description          *string           `json:"description,omitempty"`
	Distance             float64           `json:"distance"`
	MovingTime           int               `json:"moving_time"`
	ElapsedTime          int               `json:"elapsed_time"`
	TotalElevationGain   float64           `json:"total_elevation_gain"`
	ElevHigh             *float64          `json:"elev_high,omitempty"`
	ElevLow              *float64          `json:"elev_low,omitempty"`
	Type                 Type              `json:"type"`
	SportType            string            `json:"sport_type"`
	WorkoutType          *int              `json:"workout_type,omitempty"`
	StartDate            time.Time         `json:"start_date"`
	StartDateLocal       time.Time         `json:"start_date_local"`
	Timezone             string            `json:"timezone"`
	StartLatLng          []float64         `json:"start_latlng"`
	EndLatLng            []float64         `json:"end_latlng"`
	AchievementCount     int               `json:"achievement_count"`
	KudosCount           int               `json:"kudos_count"`
	CommentCount         int               `json:"comment_count"`
	AthleteCount         int               `json:"athlete_count"`
	PhotoCount           int               `json:"photo_count"`
	TotalPhotoCount      int               `json:"total_photo_count"`
	PRCount              int               `json:"pr_count"`
	Map                  PolylineMap       `json:"map"`
	Trainer              bool              `json:"trainer"`
	Commute              bool              `json:"commute"`
	Manual               bool              `json:"manual"`
	Private              bool              `json:"private"`
	Flagged              bool              `json:"flagged"`
	HasKudoed            bool              `json:"has_kudoed"`
	HideFromHome         bool              `json:"hide_from_home"`
	Visibility           *string           `json:"visibility,omitempty"`
	AverageSpeed         float64           `json:"average_speed"`
	MaxSpeed             float64           `json:"max_speed"`
	AverageCadence       *float64          `json:"average_cadence,omitempty"`
	AverageWatts         *float64          `json:"average_watts,omitempty"`
	WeightedAverageWatts *int              `json:"weighted_average_watts,omitempty"`
	MaxWatts             *int              `json:"max_watts,omitempty"`
	Kilojoules           *float64          `json:"kilojoules,omitempty"`
	DeviceWatts          *bool             `json:"device_watts,omitempty"`
	HasHeartrate         bool              `json:"has_heartrate"`
	AverageHeartrate     *float64          `json:"average_heartrate,omitempty"`
	MaxHeartrate         *float64          `json:"max_heartrate,omitempty"`
	HeartrateOptOut      *bool             `json:"heartrate_opt_out,omitempty"`
	DisplayHideHROption  *bool             `json:"display_hide_heartrate_option,omitempty"`
	SufferScore          *float64          `json:"suffer_score,omitempty"`
	Calories             float64           `json:"calories"`
	GearID               *string           `json:"gear_id,omitempty"`
	Gear                 *SummaryGear      `json:"gear,omitempty"`
	DeviceName           *string           `json:"device_name,omitempty"`
	EmbedToken           string            `json:"embed_token"`
	Photos               PhotosSummary     `json:"photos"`
	SegmentEfforts       []SegmentEffort   `json:"segment_efforts"`
	BestEfforts          []SegmentEffort   `json:"best_efforts"`
	SplitsMetric         []Split           `json:"splits_metric"`
	SplitsStandard       []Split           `json:"splits_standard"`
	Laps                 []Lap             `json:"laps"`
	StatsVisibility      []StatsVisibility `json:"stats_visibility"`
	AvailableZones       []string          `json:"available_zones"`
}

// Summary projects the record onto the minimal aggregation profile.
func (r *Record) Summary() Summary {
	return Summary{
		ID:             r.ID,
		Type:           r.Type,
		StartDateLocal: r.StartDateLocal,
		Distance:       r.Distance,
	}
}
