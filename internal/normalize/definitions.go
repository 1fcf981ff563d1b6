// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package normalize

// Canonical metric types.
const (
	HeartRate              = "heart_rate"
	RestingHeartRate       = "resting_heart_rate"
	HRV                    = "hrv"
	Glucose                = "glucose"
	Weight                 = "weight"
	BodyFat                = "body_fat"
	Steps                  = "steps"
	Distance               = "distance"
	ActiveEnergy           = "active_energy"
	SleepDuration          = "sleep_duration"
	DeepSleep              = "deep_sleep"
	REMSleep               = "rem_sleep"
	LightSleep             = "light_sleep"
	BodyTemperature        = "body_temperature"
	TemperatureDeviation   = "temperature_deviation"
	RespiratoryRate        = "respiratory_rate"
	SpO2                   = "spo2"
	BloodPressureSystolic  = "blood_pressure_systolic"
	BloodPressureDiastolic = "blood_pressure_diastolic"
	SleepScore             = "sleep_score"
	ReadinessScore         = "readiness_score"
	ActivityScore          = "activity_score"
)

// Definition describes a canonical metric: its standard unit, the decimal
// precision values are rounded to, and the plausible range used for
// quality validation.
type Definition struct {
	Type      string
	Unit      string
	Precision int32
	Min, Max  float64
}

var definitions = map[string]Definition{
	HeartRate:              {HeartRate, UnitBPM, 0, 30, 220},
	RestingHeartRate:       {RestingHeartRate, UnitBPM, 0, 25, 150},
	HRV:                    {HRV, UnitMillis, 0, 1, 300},
	Glucose:                {Glucose, UnitMgDL, 0, 40, 400},
	Weight:                 {Weight, UnitKg, 2, 20, 350},
	BodyFat:                {BodyFat, UnitPercent, 1, 2, 75},
	Steps:                  {Steps, UnitCount, 0, 0, 100000},
	Distance:               {Distance, UnitKm, 2, 0, 300},
	ActiveEnergy:           {ActiveEnergy, UnitKcal, 0, 0, 10000},
	SleepDuration:          {SleepDuration, UnitHours, 2, 0, 24},
	DeepSleep:              {DeepSleep, UnitHours, 2, 0, 24},
	REMSleep:               {REMSleep, UnitHours, 2, 0, 24},
	LightSleep:             {LightSleep, UnitHours, 2, 0, 24},
	BodyTemperature:        {BodyTemperature, UnitCelsius, 2, 34, 42},
	TemperatureDeviation:   {TemperatureDeviation, UnitCelsius, 2, -5, 5},
	RespiratoryRate:        {RespiratoryRate, UnitBreaths, 1, 4, 40},
	SpO2:                   {SpO2, UnitPercent, 1, 70, 100},
	BloodPressureSystolic:  {BloodPressureSystolic, UnitMmHg, 0, 70, 250},
	BloodPressureDiastolic: {BloodPressureDiastolic, UnitMmHg, 0, 40, 150},
	SleepScore:             {SleepScore, UnitScore, 0, 0, 100},
	ReadinessScore:         {ReadinessScore, UnitScore, 0, 0, 100},
	ActivityScore:          {ActivityScore, UnitScore, 0, 0, 100},
}

// Lookup returns the definition of a canonical metric type.
func Lookup(metricType string) (Definition, bool) {
	d, ok := definitions[metricType]
	return d, ok
}

// providerNames maps provider-specific names to canonical types. Keys are
// lowercase.
var providerNames = map[string]map[string]string{
	"dexcom": {
		"egv":            Glucose,
		"egvs":           Glucose,
		"value":          Glucose,
		"smoothedvalue":  Glucose,
		"realtimevalue":  Glucose,
		"calibration":    Glucose,
		"meter_glucose":  Glucose,
		"heart_rate_avg": HeartRate,
	},
	"oura": {
		"bpm":                         HeartRate,
		"lowest_heart_rate":           RestingHeartRate,
		"average_hrv":                 HRV,
		"total_sleep_duration":        SleepDuration,
		"deep_sleep_duration":         DeepSleep,
		"rem_sleep_duration":          REMSleep,
		"light_sleep_duration":        LightSleep,
		"average_breath":              RespiratoryRate,
		"temperature_deviation":       TemperatureDeviation,
		"active_calories":             ActiveEnergy,
		"equivalent_walking_distance": Distance,
		"sleep_score":                 SleepScore,
		"readiness_score":             ReadinessScore,
		"activity_score":              ActivityScore,
		"spo2_percentage":             SpO2,
	},
	"withings": {
		"weight":           Weight,
		"fat_ratio":        BodyFat,
		"systolic":         BloodPressureSystolic,
		"diastolic":        BloodPressureDiastolic,
		"heart_pulse":      HeartRate,
		"spo2":             SpO2,
		"body_temperature": BodyTemperature,
		"temperature":      BodyTemperature,
	},
}

// genericNames applies to every provider after the provider table. Keys are
// slugs.
var genericNames = map[string]string{
	"hr":                     HeartRate,
	"heartrate":              HeartRate,
	"pulse":                  HeartRate,
	"resting_hr":             RestingHeartRate,
	"rhr":                    RestingHeartRate,
	"heart_rate_variability": HRV,
	"hrv_rmssd":              HRV,
	"blood_glucose":          Glucose,
	"bg":                     Glucose,
	"sgv":                    Glucose,
	"body_mass":              Weight,
	"body_weight":            Weight,
	"body_fat_percentage":    BodyFat,
	"step_count":             Steps,
	"calories_active":        ActiveEnergy,
	"active_kcal":            ActiveEnergy,
	"sleep_total":            SleepDuration,
	"total_sleep":            SleepDuration,
	"oxygen_saturation":      SpO2,
	"sp_o2":                  SpO2,
	"breathing_rate":         RespiratoryRate,
	"skin_temperature":       BodyTemperature,
	"systolic":               BloodPressureSystolic,
	"diastolic":              BloodPressureDiastolic,
}
