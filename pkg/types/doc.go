/*
Package types defines the data model shared by the execution engine:
packages, tasks, runtimes, arguments, and the error kinds the core
surfaces.

# Core types

  - Package: an immutable, externally-owned bundle identified by
    (Name, Stage, Version). The engine only reads it.
  - Task: one execution of a package. Owns a status, timing fields,
    UI-port discovery state, and a terminal Result.
  - TaskStatus: INITIALIZING, RUNNING, COMPLETED, FAILED, CANCELLED,
    TIMEOUT. The first two are non-terminal; CanTransitionTo enforces
    the permitted transition table.
  - Runtime: tagged variant (Interpreted, NativeBinary,
    PrebuiltContainer) dispatched by pkg/preparer.

# Invariants

  - FinishedAt is non-zero iff Status is terminal.
  - OriginalUIPort is write-once: later UpdateUIInfo calls only change
    UIPort/UIIPAddress.
  - A non-terminal task has at most one pod named Task.ID.
  - Only the replica whose IPAddress equals Task.IPAddress may mutate
    the task's status or pod.
*/
package types
