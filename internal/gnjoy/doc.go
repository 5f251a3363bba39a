// Package gnjoy provides a client for the GNJOY Ragnarok Online item-deal site.
//
// Two endpoints are used:
//   - itemTop5BestView.asp: JSON array with the most viewed items per category
//   - itemDealList.asp: HTML page listing open shop deals for an item name
//
// Client returns errors; Source wraps it for the refresh pipeline and collapses every
// failure into "no data".
package gnjoy
