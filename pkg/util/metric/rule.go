// Copyright 2021 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package metric

import (
	"time"

	"github.com/prometheus/prometheus/promql/parser"
)

// LabelPair is a single Prometheus label name/value pair attached to a
// Rule, e.g. {Name: "severity", Value: "page"}.
type LabelPair struct {
	Name  string
	Value string
}

// Rule interface exposes an API for alerting and aggregation rules to be
// consumed, e.g. rendered into a Prometheus rule file served alongside
// /metrics.
type Rule interface {
	// Name returns the name of the rule.
	Name() string
	// Labels returns the labels associated with the rule.
	Labels() []LabelPair
	// Expr returns the prometheus expression for the rule.
	Expr() string
	// Help returns a help message for the rule.
	Help() string
}

// AlertingRule pages an operator when Expr holds for RecommendedHoldDuration.
// Used for conditions like "this instance has been unable to reach the
// consensus store for several consecutive heartbeats."
type AlertingRule struct {
	name        string
	expr        string
	annotations []LabelPair
	labels      []LabelPair
	// recommendedHoldDuration is the recommended 'for' duration in a
	// Prometheus alert: how long Expr must hold before firing. Optional;
	// left at zero when there is no recommendation.
	recommendedHoldDuration time.Duration
	help                    string
}

// AggregationRule pre-computes a recording-rule expression, e.g. rolling up
// per-worker counters into a cluster-wide rate.
type AggregationRule struct {
	name   string
	expr   string
	labels []LabelPair
	help   string
}

// AlertingRule and AggregationRule should implement the Rule interface.
var _ Rule = &AlertingRule{}
var _ Rule = &AggregationRule{}

// NewAlertingRule validates expr as a PromQL expression and returns an
// AlertingRule wrapping it.
func NewAlertingRule(
	name string,
	expr string,
	annotations []LabelPair,
	labels []LabelPair,
	recommendedHoldDuration time.Duration,
	help string,
) (*AlertingRule, error) {
	if _, err := parser.ParseExpr(expr); err != nil {
		return nil, err
	}
	rule := AlertingRule{
		name:                    name,
		expr:                    expr,
		annotations:             annotations,
		labels:                  labels,
		recommendedHoldDuration: recommendedHoldDuration,
		help:                    help,
	}
	return &rule, nil
}

// NewAggregationRule validates expr as a PromQL expression and returns an
// AggregationRule wrapping it.
func NewAggregationRule(
	name string, expr string, labels []LabelPair, help string,
) (*AggregationRule, error) {
	if _, err := parser.ParseExpr(expr); err != nil {
		return nil, err
	}
	rule := AggregationRule{
		name:   name,
		expr:   expr,
		labels: labels,
		help:   help,
	}
	return &rule, nil
}

// RecommendedHoldDuration returns the rule's recommended Prometheus 'for'
// duration.
func (a *AlertingRule) RecommendedHoldDuration() time.Duration {
	return a.recommendedHoldDuration
}

// Annotations returns the rule's alert annotations.
func (a *AlertingRule) Annotations() []LabelPair {
	return a.annotations
}

func (a *AlertingRule) Name() string {
	return a.name
}

func (a *AlertingRule) Labels() []LabelPair {
	return a.labels
}

func (a *AlertingRule) Expr() string {
	return a.expr
}

func (a *AlertingRule) Help() string {
	return a.help
}

func (ag *AggregationRule) Name() string {
	return ag.name
}

func (ag *AggregationRule) Labels() []LabelPair {
	return ag.labels
}

func (ag *AggregationRule) Expr() string {
	return ag.expr
}

func (ag *AggregationRule) Help() string {
	return ag.help
}
