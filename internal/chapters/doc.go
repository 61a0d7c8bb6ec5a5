// Package chapters detects new chapter releases on tracked pages.
//
// Extraction pulls the first "Month D, YYYY Ch. N" marker out of a page,
// Reconcile decides whether that marker is news, Cycle sweeps every tracked
// item once and Tracker adds, removes and lists tracked items.
package chapters
