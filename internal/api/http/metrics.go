package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tinylink_redirects_total",
	Help: "Number of redirect requests by outcome.",
}, []string{"outcome"})
