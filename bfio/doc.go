/*
Package bfio holds the types shared by the image reader and writer: per-axis ranges,
the axis map that places T, C, Z, Y, X onto physical array ranks, the closed set of
pixel element kinds, the tile iteration planner, the error types, and logging.
*/
package bfio
