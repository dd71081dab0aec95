// Package taskqueue はSQLiteを永続層とするタスクキューブローカーを提供する。
//
// 名前付きキューへのat-least-once配送、リース方式のタスク請け負い、
// 指数バックオフとジッターによるタスク単位のリトライスケジューリング、
// リトライ枯渇時のデッドレターキューへの転送を行う。
// 同一タスクの二重配送は排除されないため、ハンドラは再入に対して
// 安全であること（冪等であること）が求められる。
package taskqueue
